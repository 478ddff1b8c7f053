package telegram

import (
	"context"
	"strconv"
	"strings"
	"time"

	"progress_report_bot/internal/app"
	"progress_report_bot/internal/domain/chat"
	"progress_report_bot/internal/domain/progress"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// SessionUI wires the single /progress command and its inline-keyboard
// session onto the bot.
type SessionUI struct {
	sessions    *app.SessionService
	reports     *app.ReportService
	cadences    progress.CadenceRepository
	ledgers     progress.LedgerRepository
	gateway     chat.Gateway
	adapter     *TelebotAdapter
	displayZone *time.Location
	logger      *logrus.Entry
}

func NewSessionUI(
	sessions *app.SessionService,
	reports *app.ReportService,
	cadences progress.CadenceRepository,
	ledgers progress.LedgerRepository,
	adapter *TelebotAdapter,
	displayZone *time.Location,
	logger *logrus.Entry,
) *SessionUI {
	return &SessionUI{
		sessions:    sessions,
		reports:     reports,
		cadences:    cadences,
		ledgers:     ledgers,
		gateway:     adapter,
		adapter:     adapter,
		displayZone: displayZone,
		logger:      logger,
	}
}

// RegisterHandlers attaches the command and callback handlers.
func RegisterHandlers(ctx context.Context, b *telebot.Bot, ui *SessionUI) {
	b.Handle("/progress", func(c telebot.Context) error {
		return ui.handleProgressCommand(ctx, c)
	})
	b.Handle(telebot.OnCallback, func(c telebot.Context) error {
		return ui.handleCallback(ctx, c)
	})
}

// handleProgressCommand opens a configuration session when called
// bare, or submits the free-text comment as a report.
func (ui *SessionUI) handleProgressCommand(ctx context.Context, c telebot.Context) error {
	log := ui.logger.WithFields(logrus.Fields{
		"handler":   "/progress",
		"sender_id": c.Sender().ID,
		"chat_id":   c.Chat().ID,
	})

	comment := strings.TrimSpace(c.Message().Payload)
	if comment == "" {
		log.Info("Opening configuration session")
		sess := ui.sessions.Open(c.Chat().ID, c.Sender().ID)
		text, markup := ui.renderScreen(ctx, sess)
		return c.Send(text, markup)
	}

	log.Info("Report submission received")
	channel := &chat.Channel{ID: c.Chat().ID, Title: c.Chat().Title}
	_, err := ui.reports.Submit(ctx, channel, c.Sender().ID, comment, time.Now().UTC())
	if err != nil {
		if err == app.ErrNoTrackedMembers {
			return c.Send("Nobody in this channel is tracked yet. Open /progress and join first.")
		}
		log.WithError(err).Error("Report submission failed")
		return c.Send("Could not record your report, try again later.")
	}
	return nil
}

func (ui *SessionUI) handleCallback(ctx context.Context, c telebot.Context) error {
	data := strings.TrimPrefix(c.Callback().Data, "\f")
	unique, payload := data, ""
	if i := strings.IndexByte(data, '|'); i >= 0 {
		unique, payload = data[:i], data[i+1:]
	}

	if unique == cbVote {
		return ui.handleVote(ctx, c, payload)
	}

	sess := ui.sessions.Lookup(c.Chat().ID, c.Sender().ID)
	if sess == nil {
		return c.Respond(&telebot.CallbackResponse{Text: "Session expired, run /progress again."})
	}

	if err := ui.applyAction(ctx, c, sess, unique, payload); err != nil {
		// Input errors are rendered inline on the screen itself.
		if err != app.ErrSelectionIncomplete && err != app.ErrPastOccurrence {
			ui.logger.WithError(err).WithField("action", unique).Error("Session action failed")
			return c.Respond(&telebot.CallbackResponse{Text: "Something went wrong."})
		}
	}

	text, markup := ui.renderScreen(ctx, sess)
	if err := c.Edit(text, markup); err != nil && err != telebot.ErrSameMessageContent {
		ui.logger.WithError(err).Warn("Failed to redraw session screen")
	}
	return c.Respond()
}

func (ui *SessionUI) applyAction(ctx context.Context, c telebot.Context, sess *app.Session, unique, payload string) error {
	switch unique {
	case cbMenu:
		ui.sessions.ToMenu(sess)
	case cbSetting, cbBackSetting:
		ui.sessions.ToSetting(sess)
	case cbMembers, cbBackMembers:
		ui.sessions.ToMembers(sess)
	case cbChannel:
		id, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			return err
		}
		return ui.sessions.ChooseChannel(ctx, sess, id)
	case cbInterval:
		d, err := strconv.Atoi(payload)
		if err != nil {
			return err
		}
		ui.sessions.SetInterval(sess, d)
	case cbHour:
		h, err := strconv.Atoi(payload)
		if err != nil {
			return err
		}
		ui.sessions.SetHour(sess, h)
	case cbMinute:
		m, err := strconv.Atoi(payload)
		if err != nil {
			return err
		}
		ui.sessions.SetMinute(sess, m)
	case cbNextDate:
		d, err := time.ParseInLocation("2006-01-02", payload, ui.displayZone)
		if err != nil {
			return err
		}
		ui.sessions.SetNextDate(sess, d.Year(), d.Month(), d.Day())
	case cbSubmitAdd:
		return ui.sessions.SubmitAdd(ctx, sess, time.Now())
	case cbSubmitEdit:
		return ui.sessions.SubmitEdit(ctx, sess, time.Now())
	case cbDelete:
		return ui.sessions.Delete(ctx, sess)
	case cbStatusChannel:
		id, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			return err
		}
		ui.sessions.SetStatusChannel(sess, id)
		return ui.sessions.ShowMemberStatus(ctx, sess)
	case cbStatusMember:
		var id int64
		if payload == "self" {
			id = c.Sender().ID
		} else {
			var err error
			id, err = strconv.ParseInt(payload, 10, 64)
			if err != nil {
				return err
			}
		}
		ui.sessions.SetStatusMember(sess, id)
		return ui.sessions.ShowMemberStatus(ctx, sess)
	case cbJoin:
		return ui.sessions.Join(ctx, sess)
	case cbLeave:
		return ui.sessions.Leave(ctx, sess)
	}
	return nil
}

func (ui *SessionUI) handleVote(ctx context.Context, c telebot.Context, payload string) error {
	ref, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		return c.Respond(&telebot.CallbackResponse{Text: "Bad vote reference."})
	}
	count, err := ui.adapter.ToggleVote(ctx, ref, c.Sender().ID)
	if err != nil {
		if err == chat.ErrCardNotFound {
			return c.Respond(&telebot.CallbackResponse{Text: "This report is no longer tracked."})
		}
		ui.logger.WithError(err).WithField("card_ref", ref).Error("Vote toggle failed")
		return c.Respond(&telebot.CallbackResponse{Text: "Something went wrong."})
	}
	return c.Respond(&telebot.CallbackResponse{
		Text: "Pending reviews: " + strconv.Itoa(count),
	})
}
