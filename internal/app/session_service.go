package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"progress_report_bot/internal/domain/chat"
	"progress_report_bot/internal/domain/progress"
	idb "progress_report_bot/internal/infra/database"
	"progress_report_bot/internal/infra/schedule"

	"github.com/sirupsen/logrus"
)

// User-input conditions: shown inline on the current screen, the
// session stays open.
var ErrSelectionIncomplete = fmt.Errorf("interval, hour, minute and next date must all be chosen")
var ErrPastOccurrence = fmt.Errorf("the next occurrence must not be in the past")

// Screen identifies the configuration session's current view.
type Screen int

const (
	ScreenMenu Screen = iota
	ScreenSetting
	ScreenAdd
	ScreenEdit
	ScreenAdded
	ScreenEdited
	ScreenDeleted
	ScreenMembers
	ScreenMemberStatus
	ScreenMemberError
)

func (s Screen) String() string {
	switch s {
	case ScreenMenu:
		return "MENU"
	case ScreenSetting:
		return "SETTING"
	case ScreenAdd:
		return "ADD"
	case ScreenEdit:
		return "EDIT"
	case ScreenAdded:
		return "ADDED"
	case ScreenEdited:
		return "EDITED"
	case ScreenDeleted:
		return "DELETED"
	case ScreenMembers:
		return "MEMBERS"
	case ScreenMemberStatus:
		return "MEMBER_STATUS"
	case ScreenMemberError:
		return "MEMBER_ERROR"
	}
	return "UNKNOWN"
}

// Session holds one operator invocation's screen and scratch
// selections. Nothing here is persisted; two sessions never share
// state.
type Session struct {
	ChatID     int64
	OperatorID int64
	Screen     Screen

	// Inline validation message for the current screen, if any.
	InputError string

	// Cadence editing scratch.
	ChosenChannelID int64
	IntervalDays    *int
	Hour            *int
	Minute          *int
	NextDate        *time.Time // midnight in the display zone

	// Pre-populated current values on the EDIT screen, in display zone.
	CurrentIntervalDays int
	CurrentTime         progress.TimeOfDay
	CurrentNextDate     time.Time

	// Member status branch scratch.
	StatusChannelID int64
	StatusUserID    int64
	StatusLedger    *progress.MemberLedger
	StatusMessage   string
}

// reset clears the cadence scratch when (re)entering the SETTING screen.
func (s *Session) reset() {
	s.InputError = ""
	s.ChosenChannelID = 0
	s.IntervalDays = nil
	s.Hour = nil
	s.Minute = nil
	s.NextDate = nil
}

// SessionService drives the configuration session state machine.
// Commits that mutate cadence rows go through the schedule registry's
// mutex so they never interleave with a tally cycle.
type SessionService struct {
	cadences    progress.CadenceRepository
	ledgers     progress.LedgerRepository
	gateway     chat.Gateway
	registry    *schedule.Registry
	displayZone *time.Location
	logger      *logrus.Entry

	mu       sync.Mutex
	sessions map[sessionKey]*Session
}

type sessionKey struct {
	chatID     int64
	operatorID int64
}

func NewSessionService(
	cadences progress.CadenceRepository,
	ledgers progress.LedgerRepository,
	gateway chat.Gateway,
	registry *schedule.Registry,
	displayZone *time.Location,
	logger *logrus.Entry,
) *SessionService {
	return &SessionService{
		cadences:    cadences,
		ledgers:     ledgers,
		gateway:     gateway,
		registry:    registry,
		displayZone: displayZone,
		logger:      logger,
		sessions:    make(map[sessionKey]*Session),
	}
}

// Open starts (or restarts) a session for the operator at the MENU
// screen.
func (s *SessionService) Open(chatID, operatorID int64) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := &Session{ChatID: chatID, OperatorID: operatorID, Screen: ScreenMenu}
	s.sessions[sessionKey{chatID, operatorID}] = sess
	return sess
}

// Lookup returns the operator's live session, or nil.
func (s *SessionService) Lookup(chatID, operatorID int64) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[sessionKey{chatID, operatorID}]
}

func (s *SessionService) ToSetting(sess *Session) {
	sess.reset()
	sess.Screen = ScreenSetting
}

func (s *SessionService) ToMenu(sess *Session) {
	sess.reset()
	sess.Screen = ScreenMenu
}

func (s *SessionService) ToMembers(sess *Session) {
	sess.InputError = ""
	sess.StatusChannelID = 0
	sess.StatusUserID = 0
	sess.StatusLedger = nil
	sess.StatusMessage = ""
	sess.Screen = ScreenMembers
}

// ChooseChannel moves to ADD when the channel has no cadence, or to
// EDIT pre-populated with the current values converted to the display
// zone.
func (s *SessionService) ChooseChannel(ctx context.Context, sess *Session, channelID int64) error {
	sess.InputError = ""
	sess.ChosenChannelID = channelID

	cad, err := s.cadences.Get(ctx, channelID)
	if err != nil {
		if err == idb.ErrCadenceNotFound {
			sess.Screen = ScreenAdd
			return nil
		}
		return fmt.Errorf("look up cadence for channel %d: %w", channelID, err)
	}

	local := cad.Deadline.In(s.displayZone)
	sess.CurrentIntervalDays = cad.IntervalDays
	sess.CurrentTime = progress.TimeOfDay{Hour: local.Hour(), Minute: local.Minute()}
	sess.CurrentNextDate = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.displayZone)
	sess.Screen = ScreenEdit
	return nil
}

func (s *SessionService) SetInterval(sess *Session, days int) { sess.IntervalDays = &days }
func (s *SessionService) SetHour(sess *Session, hour int)     { sess.Hour = &hour }
func (s *SessionService) SetMinute(sess *Session, minute int) { sess.Minute = &minute }

func (s *SessionService) SetNextDate(sess *Session, year int, month time.Month, day int) {
	d := time.Date(year, month, day, 0, 0, 0, 0, s.displayZone)
	sess.NextDate = &d
}

// SubmitAdd validates and commits from the ADD screen.
func (s *SessionService) SubmitAdd(ctx context.Context, sess *Session, now time.Time) error {
	return s.submit(ctx, sess, now, ScreenAdd, ScreenAdded)
}

// SubmitEdit validates and commits from the EDIT screen.
func (s *SessionService) SubmitEdit(ctx context.Context, sess *Session, now time.Time) error {
	return s.submit(ctx, sess, now, ScreenEdit, ScreenEdited)
}

func (s *SessionService) submit(ctx context.Context, sess *Session, now time.Time, current, done Screen) error {
	if sess.IntervalDays == nil || sess.Hour == nil || sess.Minute == nil || sess.NextDate == nil {
		sess.Screen = current
		sess.InputError = ErrSelectionIncomplete.Error()
		return ErrSelectionIncomplete
	}

	next := time.Date(sess.NextDate.Year(), sess.NextDate.Month(), sess.NextDate.Day(),
		*sess.Hour, *sess.Minute, 0, 0, s.displayZone)
	if next.Before(now) {
		sess.Screen = current
		sess.InputError = ErrPastOccurrence.Error()
		return ErrPastOccurrence
	}

	nextUTC := next.UTC()
	timeOfDay := progress.TimeOfDay{Hour: nextUTC.Hour(), Minute: nextUTC.Minute()}

	err := s.registry.CommitAndRearm(ctx, func(ctx context.Context) error {
		_, err := s.cadences.Get(ctx, sess.ChosenChannelID)
		if err == idb.ErrCadenceNotFound {
			// Insert seeds the full triple from the chosen occurrence.
			return s.cadences.Create(ctx, progress.NewCadence(sess.ChosenChannelID, *sess.IntervalDays, timeOfDay, nextUTC))
		}
		if err != nil {
			return fmt.Errorf("look up cadence: %w", err)
		}
		// Edit overwrites the forward deadline only; prev and prior keep
		// the windows produced under the old cadence.
		updated := &progress.Cadence{
			ChannelID:    sess.ChosenChannelID,
			IntervalDays: *sess.IntervalDays,
			TimeOfDay:    timeOfDay,
			Deadline:     nextUTC,
		}
		return s.cadences.UpdateSchedule(ctx, updated)
	})
	if err != nil {
		return fmt.Errorf("commit cadence for channel %d: %w", sess.ChosenChannelID, err)
	}

	s.logger.WithFields(logrus.Fields{
		"channel_id":    sess.ChosenChannelID,
		"interval_days": *sess.IntervalDays,
		"next":          nextUTC,
	}).Info("Cadence committed")
	sess.InputError = ""
	sess.Screen = done
	return nil
}

// Delete removes the chosen channel's cadence and rearms the timer.
func (s *SessionService) Delete(ctx context.Context, sess *Session) error {
	err := s.registry.CommitAndRearm(ctx, func(ctx context.Context) error {
		return s.cadences.Delete(ctx, sess.ChosenChannelID)
	})
	if err != nil {
		return fmt.Errorf("delete cadence for channel %d: %w", sess.ChosenChannelID, err)
	}
	s.logger.WithField("channel_id", sess.ChosenChannelID).Info("Cadence deleted")
	sess.InputError = ""
	sess.Screen = ScreenDeleted
	return nil
}

func (s *SessionService) SetStatusChannel(sess *Session, channelID int64) {
	sess.StatusChannelID = channelID
}

func (s *SessionService) SetStatusMember(sess *Session, userID int64) {
	sess.StatusUserID = userID
}

// ShowMemberStatus resolves the chosen member's ledger for the chosen
// channel, or routes to the error screen with a descriptive message.
// It is a no-op until both selections are made.
func (s *SessionService) ShowMemberStatus(ctx context.Context, sess *Session) error {
	if sess.StatusChannelID == 0 || sess.StatusUserID == 0 {
		return nil
	}

	channel, err := s.gateway.ResolveChannel(ctx, sess.StatusChannelID)
	if err != nil {
		if err == chat.ErrChannelNotFound {
			sess.Screen = ScreenMemberError
			sess.StatusMessage = fmt.Sprintf("Channel %d does not exist.", sess.StatusChannelID)
			return nil
		}
		return fmt.Errorf("resolve channel %d: %w", sess.StatusChannelID, err)
	}

	if _, err := s.cadences.Get(ctx, channel.ID); err != nil {
		if err == idb.ErrCadenceNotFound {
			sess.Screen = ScreenMemberError
			sess.StatusMessage = fmt.Sprintf("%s is not registered as a progress channel.", channel.Title)
			return nil
		}
		return fmt.Errorf("look up cadence for channel %d: %w", channel.ID, err)
	}

	present, err := s.gateway.PresentMembers(ctx, channel, []int64{sess.StatusUserID})
	if err != nil {
		return fmt.Errorf("check member presence: %w", err)
	}
	name := s.gateway.MemberName(ctx, channel, sess.StatusUserID)
	if len(present) == 0 {
		sess.Screen = ScreenMemberError
		sess.StatusMessage = fmt.Sprintf("%s is not a member of %s.", name, channel.Title)
		return nil
	}

	ledger, err := s.ledgers.Get(ctx, channel.ID, sess.StatusUserID)
	if err != nil {
		if err == idb.ErrLedgerNotFound {
			sess.Screen = ScreenMemberError
			sess.StatusMessage = fmt.Sprintf("%s has not joined progress tracking in %s.", name, channel.Title)
			return nil
		}
		return fmt.Errorf("look up ledger: %w", err)
	}

	sess.StatusLedger = ledger
	sess.Screen = ScreenMemberStatus
	return nil
}

// Join enrolls the chosen member into the channel's tracking with a
// zeroed ledger.
func (s *SessionService) Join(ctx context.Context, sess *Session) error {
	err := s.ledgers.Create(ctx, &progress.MemberLedger{
		ChannelID: sess.StatusChannelID,
		UserID:    sess.StatusUserID,
	})
	if err != nil && err != idb.ErrDuplicateLedger {
		return fmt.Errorf("join member %d to channel %d: %w", sess.StatusUserID, sess.StatusChannelID, err)
	}
	s.logger.WithFields(logrus.Fields{
		"channel_id": sess.StatusChannelID,
		"user_id":    sess.StatusUserID,
	}).Info("Member joined progress tracking")
	return s.ShowMemberStatus(ctx, sess)
}

// Leave removes the chosen member's ledger row.
func (s *SessionService) Leave(ctx context.Context, sess *Session) error {
	if err := s.ledgers.Delete(ctx, sess.StatusChannelID, sess.StatusUserID); err != nil {
		return fmt.Errorf("remove member %d from channel %d: %w", sess.StatusUserID, sess.StatusChannelID, err)
	}
	s.logger.WithFields(logrus.Fields{
		"channel_id": sess.StatusChannelID,
		"user_id":    sess.StatusUserID,
	}).Info("Member left progress tracking")
	sess.StatusLedger = nil
	sess.Screen = ScreenMembers
	return nil
}
