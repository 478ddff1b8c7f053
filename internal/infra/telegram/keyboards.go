package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"progress_report_bot/internal/app"
	"progress_report_bot/internal/domain/chat"

	"gopkg.in/telebot.v3"
)

// Callback uniques. Telebot encodes button data as "\f<unique>|<payload>".
const (
	cbMenu          = "pgs_menu"
	cbSetting       = "pgs_setting"
	cbMembers       = "pgs_members"
	cbChannel       = "pgs_chan"
	cbInterval      = "pgs_ivl"
	cbHour          = "pgs_hour"
	cbMinute        = "pgs_min"
	cbNextDate      = "pgs_date"
	cbSubmitAdd     = "pgs_add"
	cbSubmitEdit    = "pgs_edit"
	cbDelete        = "pgs_del"
	cbBackSetting   = "pgs_back"
	cbStatusChannel = "pgs_schan"
	cbStatusMember  = "pgs_smem"
	cbJoin          = "pgs_join"
	cbLeave         = "pgs_leave"
	cbBackMembers   = "pgs_backm"
	cbVote          = "pgsvote"
)

// renderScreen builds the message text and inline keyboard for the
// session's current screen.
func (ui *SessionUI) renderScreen(ctx context.Context, sess *app.Session) (string, *telebot.ReplyMarkup) {
	switch sess.Screen {
	case app.ScreenMenu:
		return ui.renderMenu()
	case app.ScreenSetting:
		return ui.renderSetting(ctx, sess)
	case app.ScreenAdd:
		return ui.renderCadenceForm(ctx, sess, false)
	case app.ScreenEdit:
		return ui.renderCadenceForm(ctx, sess, true)
	case app.ScreenAdded:
		return ui.renderCommitted(sess, "Added")
	case app.ScreenEdited:
		return ui.renderCommitted(sess, "Updated")
	case app.ScreenDeleted:
		return ui.renderDeleted()
	case app.ScreenMembers:
		return ui.renderMembers(ctx, sess)
	case app.ScreenMemberStatus:
		return ui.renderMemberStatus(ctx, sess)
	case app.ScreenMemberError:
		return ui.renderMemberError(sess)
	}
	return "Unknown screen.", &telebot.ReplyMarkup{}
}

func (ui *SessionUI) renderMenu() (string, *telebot.ReplyMarkup) {
	text := "Progress watch\n\n" +
		"The bot watches configured channels for progress reports. " +
		"Members who miss a cycle get a reminder mention; repeated misses can get you kicked."
	m := &telebot.ReplyMarkup{}
	m.Inline(m.Row(
		m.Data("Report status", cbMembers),
		m.Data("Settings", cbSetting),
	))
	return text, m
}

func (ui *SessionUI) renderSetting(ctx context.Context, sess *app.Session) (string, *telebot.ReplyMarkup) {
	text := "Progress channel settings\n\n" +
		"Pick a channel to configure. Members without a report in a cycle get a reminder mention."
	m := &telebot.ReplyMarkup{}
	var rows []telebot.Row
	for _, ch := range ui.channelOptions(ctx, sess.ChatID) {
		rows = append(rows, m.Row(m.Data("# "+ch.Title, cbChannel, strconv.FormatInt(ch.ID, 10))))
	}
	rows = append(rows, m.Row(m.Data("« Back", cbMenu)))
	m.Inline(rows...)
	return text, m
}

func (ui *SessionUI) renderCadenceForm(ctx context.Context, sess *app.Session, edit bool) (string, *telebot.ReplyMarkup) {
	var b strings.Builder
	title := "Add"
	if edit {
		title = "Edit"
	}
	channelTitle := ui.channelTitle(ctx, sess.ChosenChannelID)
	fmt.Fprintf(&b, "%s # %s\n", title, channelTitle)

	if edit {
		fmt.Fprintf(&b, "\nCurrent: every %d day(s) at %s, next on %s\n",
			sess.CurrentIntervalDays, sess.CurrentTime, sess.CurrentNextDate.Format("2006-01-02"))
	}
	b.WriteString("\nChosen:")
	if sess.IntervalDays != nil {
		fmt.Fprintf(&b, " every %d day(s)", *sess.IntervalDays)
	}
	if sess.Hour != nil && sess.Minute != nil {
		fmt.Fprintf(&b, " at %02d:%02d", *sess.Hour, *sess.Minute)
	}
	if sess.NextDate != nil {
		fmt.Fprintf(&b, " starting %s", sess.NextDate.Format("2006-01-02"))
	}
	if sess.InputError != "" {
		fmt.Fprintf(&b, "\n\n⚠️ %s", sess.InputError)
	}

	m := &telebot.ReplyMarkup{}
	var rows []telebot.Row

	var intervalBtns []telebot.Btn
	for d := 1; d <= 7; d++ {
		label := fmt.Sprintf("%dd", d)
		if d == 1 {
			label = "daily"
		}
		intervalBtns = append(intervalBtns, m.Data(label, cbInterval, strconv.Itoa(d)))
	}
	rows = append(rows, m.Row(intervalBtns...))

	for start := 0; start < 24; start += 8 {
		var hourBtns []telebot.Btn
		for h := start; h < start+8; h++ {
			hourBtns = append(hourBtns, m.Data(fmt.Sprintf("%02dh", h), cbHour, strconv.Itoa(h)))
		}
		rows = append(rows, m.Row(hourBtns...))
	}

	var minuteBtns []telebot.Btn
	for mm := 0; mm < 60; mm += 10 {
		minuteBtns = append(minuteBtns, m.Data(fmt.Sprintf(":%02d", mm), cbMinute, strconv.Itoa(mm)))
	}
	rows = append(rows, m.Row(minuteBtns...))

	now := time.Now().In(ui.displayZone)
	var dateBtns []telebot.Btn
	for i := 0; i < 7; i++ {
		d := now.AddDate(0, 0, i)
		dateBtns = append(dateBtns, m.Data(d.Format("01-02"), cbNextDate, d.Format("2006-01-02")))
		if len(dateBtns) == 4 {
			rows = append(rows, m.Row(dateBtns...))
			dateBtns = nil
		}
	}
	if len(dateBtns) > 0 {
		rows = append(rows, m.Row(dateBtns...))
	}

	if edit {
		rows = append(rows, m.Row(
			m.Data("Save", cbSubmitEdit),
			m.Data("Delete", cbDelete),
			m.Data("« Back", cbBackSetting),
		))
	} else {
		rows = append(rows, m.Row(
			m.Data("Add", cbSubmitAdd),
			m.Data("« Back", cbBackSetting),
		))
	}
	m.Inline(rows...)
	return b.String(), m
}

func (ui *SessionUI) renderCommitted(sess *app.Session, verb string) (string, *telebot.ReplyMarkup) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s ✔\n", verb)
	if sess.IntervalDays != nil {
		fmt.Fprintf(&b, "\nInterval: every %d day(s)", *sess.IntervalDays)
	}
	if sess.Hour != nil && sess.Minute != nil {
		fmt.Fprintf(&b, "\nTime: %02d:%02d", *sess.Hour, *sess.Minute)
	}
	if sess.NextDate != nil {
		fmt.Fprintf(&b, "\nFirst deadline: %s", sess.NextDate.Format("2006-01-02"))
	}
	m := &telebot.ReplyMarkup{}
	m.Inline(m.Row(m.Data("« Back", cbBackSetting)))
	return b.String(), m
}

func (ui *SessionUI) renderDeleted() (string, *telebot.ReplyMarkup) {
	m := &telebot.ReplyMarkup{}
	m.Inline(m.Row(m.Data("« Back", cbBackSetting)))
	return "Deleted ✔", m
}

func (ui *SessionUI) renderMembers(ctx context.Context, sess *app.Session) (string, *telebot.ReplyMarkup) {
	var b strings.Builder
	b.WriteString("Progress report status\n\nPick a channel and a member.")
	if sess.StatusChannelID != 0 {
		fmt.Fprintf(&b, "\nChannel: # %s", ui.channelTitle(ctx, sess.StatusChannelID))
	}

	m := &telebot.ReplyMarkup{}
	var rows []telebot.Row
	for _, ch := range ui.channelOptions(ctx, sess.ChatID) {
		rows = append(rows, m.Row(m.Data("# "+ch.Title, cbStatusChannel, strconv.FormatInt(ch.ID, 10))))
	}
	if sess.StatusChannelID != 0 {
		var memberBtns []telebot.Btn
		memberBtns = append(memberBtns, m.Data("Me", cbStatusMember, "self"))
		if roster, err := ui.ledgers.ListByChannel(ctx, sess.StatusChannelID); err == nil {
			channel := &chat.Channel{ID: sess.StatusChannelID}
			for _, l := range roster {
				name := ui.gateway.MemberName(ctx, channel, l.UserID)
				memberBtns = append(memberBtns, m.Data(name, cbStatusMember, strconv.FormatInt(l.UserID, 10)))
				if len(memberBtns) == 4 {
					rows = append(rows, m.Row(memberBtns...))
					memberBtns = nil
				}
			}
		}
		if len(memberBtns) > 0 {
			rows = append(rows, m.Row(memberBtns...))
		}
	}
	rows = append(rows, m.Row(m.Data("« Back", cbMenu)))
	m.Inline(rows...)
	return b.String(), m
}

func (ui *SessionUI) renderMemberStatus(ctx context.Context, sess *app.Session) (string, *telebot.ReplyMarkup) {
	l := sess.StatusLedger
	name := ui.gateway.MemberName(ctx, &chat.Channel{ID: sess.StatusChannelID}, sess.StatusUserID)
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", name)
	fmt.Fprintf(&b, "Score: %d\n", l.Score)
	fmt.Fprintf(&b, "Reports approved: %d\n", l.Total)
	fmt.Fprintf(&b, "Approval streak: %d\n", maxInt(l.Streak, 0))
	fmt.Fprintf(&b, "Missed cycles: %d\n", l.Escape)
	fmt.Fprintf(&b, "Reports denied: %d\n", l.Denied)
	fmt.Fprintf(&b, "Silent streak: %d", maxInt(-l.Streak, 0))

	m := &telebot.ReplyMarkup{}
	m.Inline(m.Row(
		m.Data("Leave", cbLeave),
		m.Data("« Back", cbBackMembers),
	))
	return b.String(), m
}

func (ui *SessionUI) renderMemberError(sess *app.Session) (string, *telebot.ReplyMarkup) {
	m := &telebot.ReplyMarkup{}
	m.Inline(m.Row(
		m.Data("Join", cbJoin),
		m.Data("« Back", cbBackMembers),
	))
	return "⚠️ " + sess.StatusMessage, m
}

// channelOptions lists the chat the session was opened in plus every
// channel that already has a cadence.
func (ui *SessionUI) channelOptions(ctx context.Context, sessionChatID int64) []chat.Channel {
	options := make([]chat.Channel, 0, 4)
	seen := map[int64]bool{}
	if ch, err := ui.gateway.ResolveChannel(ctx, sessionChatID); err == nil {
		options = append(options, *ch)
		seen[ch.ID] = true
	}
	cadences, err := ui.cadences.List(ctx)
	if err != nil {
		return options
	}
	for _, cad := range cadences {
		if seen[cad.ChannelID] {
			continue
		}
		if ch, err := ui.gateway.ResolveChannel(ctx, cad.ChannelID); err == nil {
			options = append(options, *ch)
			seen[ch.ID] = true
		}
	}
	return options
}

func (ui *SessionUI) channelTitle(ctx context.Context, channelID int64) string {
	if ch, err := ui.gateway.ResolveChannel(ctx, channelID); err == nil {
		return ch.Title
	}
	return strconv.FormatInt(channelID, 10)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
