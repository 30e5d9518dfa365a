package bot

import (
	"context"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"knockbot/logger"
	"knockbot/metrics"
	"knockbot/nfctrl"
	"knockbot/resolver"
)

type Resolver interface {
	Resolve(ctx context.Context) resolver.Result
}

type Applier interface {
	Apply(ctx context.Context, addr string) error
}

// Settings is everything a configuration reload can replace.
type Settings struct {
	Allowed    map[int64]struct{}
	ShareURL   string
	KnockDelay time.Duration
	Resolver   Resolver
	Rules      Applier
}

// AddressStore holds the most recent resolution; last write wins.
type AddressStore struct {
	addr string
}

func (s *AddressStore) Set(r resolver.Result) {
	s.addr = r.Addr
}

// Get returns the stored address, "" when the last lookup failed.
func (s *AddressStore) Get() string {
	return s.addr
}

// Dispatcher handles events strictly one after another. Its state is
// only touched from the goroutine running Run (or calling Handle).
type Dispatcher struct {
	api      Sender
	metrics  *metrics.Metrics
	settings Settings
	guest    AddressStore
	sleep    func(ctx context.Context, d time.Duration) error
	log      *logrus.Entry
}

func NewDispatcher(api Sender, m *metrics.Metrics, s Settings) *Dispatcher {
	return &Dispatcher{
		api:      api,
		metrics:  m,
		settings: s,
		sleep:    sleepContext,
		log:      logger.WithComponent("bot"),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// GuestIP returns the last resolved address.
func (d *Dispatcher) GuestIP() string {
	return d.guest.Get()
}

// Run consumes updates, settings reloads and knock alerts until ctx is
// done or updates is closed. Closed reload or knock channels are
// ignored from then on.
func (d *Dispatcher) Run(ctx context.Context, updates <-chan tgbotapi.Update, reloads <-chan Settings, knocks <-chan nfctrl.Knock) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case update, ok := <-updates:
			if !ok {
				return nil
			}
			d.Handle(ctx, update)

		case s, ok := <-reloads:
			if !ok {
				reloads = nil
				continue
			}
			d.Reload(s)

		case k, ok := <-knocks:
			if !ok {
				knocks = nil
				continue
			}
			d.Alert(k)
		}
	}
}

// Reload swaps in new settings between two events.
func (d *Dispatcher) Reload(s Settings) {
	d.settings = s
	d.log.WithField("allowed_users", len(s.Allowed)).Info("Settings reloaded")
}

// Handle processes one update to completion.
func (d *Dispatcher) Handle(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		d.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		d.handleMessage(ctx, update.Message)
	}
}

// Resolve looks the address up again and remembers the result.
func (d *Dispatcher) Resolve(ctx context.Context) resolver.Result {
	res := d.settings.Resolver.Resolve(ctx)
	d.guest.Set(res)
	d.metrics.ResolutionsTotal.WithLabelValues(metrics.Result(res.Resolved())).Inc()
	return res
}

// Alert tells every allowed user about a knock from an unknown source.
func (d *Dispatcher) Alert(k nfctrl.Knock) {
	d.metrics.KnockAlertsTotal.Inc()
	for id := range d.settings.Allowed {
		d.send(newKnockAlert(id, k.SrcIP, k.DstPort))
	}
}

func (d *Dispatcher) authorized(user *tgbotapi.User) bool {
	if user == nil {
		return false
	}
	_, ok := d.settings.Allowed[user.ID]
	return ok
}

func (d *Dispatcher) handleMessage(ctx context.Context, m *tgbotapi.Message) {
	if !m.IsCommand() {
		return
	}

	// Commands are matched case-insensitively: the registered menu entry
	// is /changeip while operators type /changeIP.
	cmd := strings.ToLower(m.Command())
	log := d.log.WithField("command", cmd)
	if m.From != nil {
		log = log.WithField("user", m.From.ID)
	}
	log.Infof("%s", m.Text)

	switch cmd {
	case "start", "help", "changeip":
	default:
		log.Debug("ignoring unknown command")
		return
	}

	var chatID int64
	switch {
	case m.Chat != nil:
		chatID = m.Chat.ID
	case m.From != nil:
		chatID = m.From.ID
	default:
		log.Warn("command without chat or sender")
		return
	}
	d.metrics.EventsTotal.WithLabelValues(cmd).Inc()

	if !d.authorized(m.From) {
		d.metrics.UnauthorizedTotal.Inc()
		log.Warn("unauthorized user")
		d.send(tgbotapi.NewMessage(chatID, unauthorizedText))
		return
	}

	switch cmd {
	case "start", "help":
		d.send(tgbotapi.NewMessage(chatID, helpText))
		d.send(newMenu(chatID, d.guest.Get()))
	case "changeip":
		d.changeIP(ctx, chatID, m.Text)
	}
}

func (d *Dispatcher) changeIP(ctx context.Context, chatID int64, text string) {
	args := strings.Fields(text)
	if len(args) < 2 {
		d.send(tgbotapi.NewMessage(chatID, usageChangeIP))
		return
	}

	ip := args[1]
	d.log.WithField("ip", ip).Info("Received /changeIP command")

	if err := d.apply(ctx, ip); err != nil {
		d.send(tgbotapi.NewMessage(chatID, changeFailedText(err)))
		return
	}
	d.send(tgbotapi.NewMessage(chatID, whitelistedText(ip)))
}

func (d *Dispatcher) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	chatID := int64(0)
	if q.Message != nil && q.Message.Chat != nil {
		chatID = q.Message.Chat.ID
	} else if q.From != nil {
		chatID = q.From.ID
	}

	log := d.log.WithField("callback", q.Data)
	if q.From != nil {
		log = log.WithField("user", q.From.ID)
	}

	kind := q.Data
	if _, ok := parseAllow(q.Data); ok {
		kind = "allow"
	}
	switch kind {
	case ShareIP, KnockDoor, Refresh, "allow":
	default:
		log.Debug("ignoring unknown callback")
		d.ack(q.ID, "")
		return
	}
	d.metrics.EventsTotal.WithLabelValues(kind).Inc()

	if !d.authorized(q.From) {
		d.metrics.UnauthorizedTotal.Inc()
		log.Warn("unauthorized user")
		d.ack(q.ID, unauthorizedText)
		d.send(tgbotapi.NewMessage(chatID, unauthorizedText))
		return
	}

	switch kind {
	case ShareIP:
		d.ack(q.ID, "")
		d.send(newShareMessage(chatID, d.settings.ShareURL))

	case KnockDoor:
		d.ack(q.ID, knockToast)
		d.knock(ctx, chatID)

	case Refresh:
		d.ack(q.ID, "")
		res := d.Resolve(ctx)
		log.Infof("Refreshed GUEST_IP: %s", res.Addr)
		d.send(newMenu(chatID, d.guest.Get()))

	case "allow":
		ip, _ := parseAllow(q.Data)
		d.ack(q.ID, "")
		if err := d.apply(ctx, ip); err != nil {
			d.send(newStatus(chatID, whitelistErrorText(ip), "❌"))
			return
		}
		d.send(newStatus(chatID, whitelistedText(ip), "✅"))
	}
}

func (d *Dispatcher) knock(ctx context.Context, chatID int64) {
	if err := d.sleep(ctx, d.settings.KnockDelay); err != nil {
		return
	}

	res := d.Resolve(ctx)
	d.log.Infof("Retrieved IP for knocking: %s", res.Addr)
	if !res.Resolved() {
		d.send(newStatus(chatID, noAddressText, "❗️"))
		return
	}

	if err := d.apply(ctx, res.Addr); err != nil {
		d.send(newStatus(chatID, whitelistErrorText(res.Addr), "❌"))
		return
	}
	d.send(newStatus(chatID, whitelistedText(res.Addr), "✅"))
}

func (d *Dispatcher) apply(ctx context.Context, ip string) error {
	err := d.settings.Rules.Apply(ctx, ip)
	d.metrics.RuleApplicationsTotal.WithLabelValues(metrics.Result(err == nil)).Inc()
	if err != nil {
		d.log.WithField("ip", ip).WithError(err).Warn("rule application failed")
	}
	return err
}

func (d *Dispatcher) send(c tgbotapi.Chattable) {
	if _, err := d.api.Send(c); err != nil {
		d.log.WithError(err).Error("failed to send message")
	}
}

func (d *Dispatcher) ack(id, text string) {
	if _, err := d.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		d.log.WithError(err).Error("failed to answer callback")
	}
}
