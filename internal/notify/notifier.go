package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mariomelembe98/necrologia-tempo/internal/db"
	"github.com/mariomelembe98/necrologia-tempo/internal/mpesa"
)

// Config addresses and branding for outgoing messages.
type Config struct {
	AppName         string
	PublicBaseURL   string
	// PublicPath and AdminPath locate an announcement under PublicBaseURL;
	// "{slug}" is replaced. They default to this service's own routes and
	// are overridden when a separate frontend serves the pages.
	PublicPath      string
	AdminPath       string
	OperatorEmail   string
	ModerationEmail string
	CountryCode     string
}

const (
	DefaultPublicPath = "/v1/announcements/{slug}"
	DefaultAdminPath  = "/v1/admin/announcements/{slug}"
)

// Notifier turns lifecycle events into messages and hands them to a
// Dispatcher. Every method returns the joined dispatch errors; callers
// decide whether to surface them.
type Notifier struct {
	cfg        Config
	dispatcher Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

func NewNotifier(cfg Config, dispatcher Dispatcher, logger *zap.Logger) *Notifier {
	if cfg.AppName == "" {
		cfg.AppName = "Necrologia"
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = "258"
	}
	if cfg.PublicPath == "" {
		cfg.PublicPath = DefaultPublicPath
	}
	if cfg.AdminPath == "" {
		cfg.AdminPath = DefaultAdminPath
	}
	return &Notifier{cfg: cfg, dispatcher: dispatcher, logger: logger, now: time.Now}
}

// NotifySubmission tells the operator about a new announcement and confirms
// receipt to the advertiser by e-mail, or by SMS when no e-mail is known.
func (n *Notifier) NotifySubmission(ctx context.Context, a *db.Announcement, adv *db.Advertiser) error {
	v := n.view(a, adv)
	v.URL = n.adminURL(a)

	var errs []error
	if n.cfg.OperatorEmail != "" {
		body, err := render("operator", v)
		if err != nil {
			return err
		}
		errs = append(errs, n.dispatch(ctx, &Message{
			Kind:    KindSubmitted,
			Channel: ChannelEmail,
			To:      n.cfg.OperatorEmail,
			Subject: "Novo anúncio submetido",
			Body:    body,
		}, a))
	}

	body, err := render("advertiser", v)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	if email := advertiserEmail(adv); email != "" {
		errs = append(errs, n.dispatch(ctx, &Message{
			Kind:    KindSubmittedAdvertiser,
			Channel: ChannelEmail,
			To:      email,
			Subject: fmt.Sprintf("Recebemos o seu anúncio na %s", n.cfg.AppName),
			Body:    body,
		}, a))
	} else if phone := n.phone(adv); phone != "" {
		errs = append(errs, n.dispatch(ctx, &Message{
			Kind:    KindSubmittedAdvertiser,
			Channel: ChannelSMS,
			To:      phone,
			Body:    fmt.Sprintf("%s: recebemos o seu anúncio \"%s\". Entraremos em contacto para confirmar o pagamento.", n.cfg.AppName, a.Name),
		}, a))
	}
	return errors.Join(errs...)
}

// NotifyModerationRequired asks the moderation team to review a free
// announcement submitted during the promotion window.
func (n *Notifier) NotifyModerationRequired(ctx context.Context, a *db.Announcement, adv *db.Advertiser) error {
	if n.cfg.ModerationEmail == "" {
		n.logger.Debug("moderation e-mail not configured, skipping",
			zap.Int64("announcement_id", a.ID))
		return nil
	}
	v := n.view(a, adv)
	v.URL = n.adminURL(a)
	body, err := render("moderation", v)
	if err != nil {
		return err
	}
	return n.dispatch(ctx, &Message{
		Kind:    KindModerationRequired,
		Channel: ChannelEmail,
		To:      n.cfg.ModerationEmail,
		Subject: "Revisão necessária: anúncio gratuito pendente",
		Body:    body,
	}, a)
}

// NotifyStatusChange informs the advertiser of the announcement's new status.
// Publication is also sent by SMS.
func (n *Notifier) NotifyStatusChange(ctx context.Context, a *db.Announcement, adv *db.Advertiser) error {
	st := statusText(a)
	v := n.view(a, adv)
	v.Title = st.Title
	v.Message = st.Message
	if a.Status == db.StatusPublished {
		v.URL = n.publicURL(a)
		v.CTALabel = "Ver anúncio"
	}

	var errs []error
	email := advertiserEmail(adv)
	if email != "" {
		body, err := render("status", v)
		if err != nil {
			return err
		}
		errs = append(errs, n.dispatch(ctx, &Message{
			Kind:    KindStatusChanged,
			Channel: ChannelEmail,
			To:      email,
			Subject: fmt.Sprintf("%s - %s", st.Title, n.cfg.AppName),
			Body:    body,
		}, a))
	}

	if email == "" || a.Status == db.StatusPublished {
		if phone := n.phone(adv); phone != "" {
			body, err := render("status_sms", v)
			if err != nil {
				return errors.Join(append(errs, err)...)
			}
			errs = append(errs, n.dispatch(ctx, &Message{
				Kind:    KindStatusChanged,
				Channel: ChannelSMS,
				To:      phone,
				Body:    body,
			}, a))
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) dispatch(ctx context.Context, msg *Message, a *db.Announcement) error {
	msg.ID = uuid.New()
	msg.AnnouncementID = a.ID
	msg.CreatedAt = n.now().UTC()

	if err := n.dispatcher.Dispatch(ctx, msg); err != nil {
		n.logger.Warn("notification dispatch failed",
			zap.Error(err),
			zap.String("id", msg.ID.String()),
			zap.String("kind", string(msg.Kind)),
			zap.String("channel", string(msg.Channel)),
			zap.Int64("announcement_id", a.ID),
		)
		return fmt.Errorf("dispatch %s via %s: %w", msg.Kind, msg.Channel, err)
	}
	return nil
}

func (n *Notifier) view(a *db.Announcement, adv *db.Advertiser) view {
	if adv == nil {
		adv = &db.Advertiser{}
	}
	plan := "Sem plano"
	if a.Plan != nil {
		plan = a.Plan.Name
	}
	return view{App: n.cfg.AppName, Plan: plan, A: a, Advertiser: adv}
}

func (n *Notifier) publicURL(a *db.Announcement) string {
	return n.link(n.cfg.PublicPath, a)
}

func (n *Notifier) adminURL(a *db.Announcement) string {
	return n.link(n.cfg.AdminPath, a)
}

func (n *Notifier) link(path string, a *db.Announcement) string {
	if n.cfg.PublicBaseURL == "" {
		return ""
	}
	path = strings.ReplaceAll(path, "{slug}", url.PathEscape(a.Slug))
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(n.cfg.PublicBaseURL, "/") + path
}

// phone renders the advertiser phone in E.164 for SNS.
func (n *Notifier) phone(adv *db.Advertiser) string {
	if adv == nil || adv.Phone == "" {
		return ""
	}
	msisdn := mpesa.NormalizeMSISDN(adv.Phone, n.cfg.CountryCode)
	if msisdn == "" {
		return ""
	}
	return "+" + msisdn
}

func advertiserEmail(adv *db.Advertiser) string {
	if adv == nil || adv.Email == nil {
		return ""
	}
	return strings.TrimSpace(*adv.Email)
}
