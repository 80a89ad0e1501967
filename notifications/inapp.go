// Package notifications implements the in-app messaging category. Messages
// authored as campaigns are synced for this device's endpoint, held locally,
// and dispatched onto the hub when a recorded analytics event matches a
// campaign trigger.
package notifications

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/pinpoint"
	pptypes "github.com/aws/aws-sdk-go-v2/service/pinpoint/types"

	"github.com/asotjrs/amplify-go/analytics"
	"github.com/asotjrs/amplify-go/aws"
	"github.com/asotjrs/amplify-go/config"
	"github.com/asotjrs/amplify-go/hub"
	"github.com/asotjrs/amplify-go/logging"
)

// Button is one action button of a message.
type Button struct {
	Text            string
	Link            string
	BackgroundColor string
}

// Content is one content card of a message. Most layouts carry exactly one.
type Content struct {
	Header          string
	Body            string
	ImageURL        string
	BackgroundColor string
	PrimaryButton   *Button
	SecondaryButton *Button
}

// Trigger names the analytics events that surface a message. An empty
// EventNames list never matches; attribute constraints must all hold.
type Trigger struct {
	EventNames []string
	// Exclude inverts the event name match: the trigger fires for any
	// event except the named ones.
	Exclude bool
	// Attributes constrains matching events to those carrying one of the
	// listed values per attribute.
	Attributes map[string][]string
}

// Message is one synced in-app message.
type Message struct {
	CampaignID   string
	TreatmentID  string
	Priority     int32
	Layout       string
	Content      []Content
	CustomConfig map[string]string
	Trigger      *Trigger
}

// Matches reports whether the event satisfies the message's trigger.
func (m *Message) Matches(e analytics.Event) bool {
	t := m.Trigger
	if t == nil || len(t.EventNames) == 0 {
		return false
	}
	named := false
	for _, name := range t.EventNames {
		if name == e.Name {
			named = true
			break
		}
	}
	if named == t.Exclude {
		return false
	}
	for attr, values := range t.Attributes {
		got, ok := e.Attributes[attr]
		if !ok {
			return false
		}
		matched := false
		for _, v := range values {
			if v == got {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// InAppClient is the notifications category. It is keyed to the same endpoint
// identity the analytics recorder submits events under.
//
// Example:
//
//	inapp := notifications.New(&cfg.Notifications, ppClient, rec.EndpointID(),
//	    notifications.WithHub(events),
//	)
//	if _, err := inapp.SyncMessages(ctx); err != nil {
//	    return err
//	}
//	shown := inapp.DispatchEvent(analytics.Event{Name: "level_complete"})
type InAppClient struct {
	cfg        *config.NotificationsConfig
	pp         aws.PinpointClient
	endpointID string
	events     *hub.Hub
	log        logging.Logger
	now        func() time.Time

	mu       sync.RWMutex
	messages []Message
}

// Option configures an InAppClient.
type Option func(*InAppClient)

// WithLogger routes the client's log output.
func WithLogger(l logging.Logger) Option {
	return func(c *InAppClient) { c.log = logging.OrNop(l) }
}

// WithHub publishes messageReceived events on the in-app messaging channel
// of the given hub.
func WithHub(h *hub.Hub) Option {
	return func(c *InAppClient) { c.events = h }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *InAppClient) { c.now = now }
}

// New builds the notifications category client for one endpoint.
func New(cfg *config.NotificationsConfig, pp aws.PinpointClient, endpointID string, opts ...Option) *InAppClient {
	c := &InAppClient{
		cfg:        cfg,
		pp:         pp,
		endpointID: endpointID,
		log:        logging.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SyncMessages fetches the in-app messages currently eligible for this
// endpoint and replaces the local set with them.
func (c *InAppClient) SyncMessages(ctx context.Context) ([]Message, error) {
	out, err := c.pp.GetInAppMessages(ctx, &pinpoint.GetInAppMessagesInput{
		ApplicationId: &c.cfg.AppID,
		EndpointId:    &c.endpointID,
	})
	if err != nil {
		return nil, aws.NewServiceError("GetInAppMessages", err)
	}

	var messages []Message
	if out.InAppMessagesResponse != nil {
		for _, campaign := range out.InAppMessagesResponse.InAppMessageCampaigns {
			messages = append(messages, fromCampaign(campaign))
		}
	}

	c.mu.Lock()
	c.messages = messages
	c.mu.Unlock()

	c.log.Debug("synced %d in-app messages for endpoint %s", len(messages), c.endpointID)
	return append([]Message(nil), messages...), nil
}

// Messages returns the locally held message set from the last sync.
func (c *InAppClient) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Message(nil), c.messages...)
}

// ClearMessages drops the local message set, typically on sign-out.
func (c *InAppClient) ClearMessages() {
	c.mu.Lock()
	c.messages = nil
	c.mu.Unlock()
}

// DispatchEvent matches a recorded event against the synced triggers. Every
// matched message is published on the hub's in-app messaging channel and
// returned, ordered as synced.
func (c *InAppClient) DispatchEvent(e analytics.Event) []Message {
	c.mu.RLock()
	snapshot := c.messages
	c.mu.RUnlock()

	var matched []Message
	for _, m := range snapshot {
		if m.Matches(e) {
			matched = append(matched, m)
		}
	}
	if c.events != nil {
		for _, m := range matched {
			c.events.Publish(hub.ChannelInAppMessaging, hub.Event{
				Name: "messageReceived",
				Data: map[string]any{"campaignId": m.CampaignID, "event": e.Name},
				Time: c.now(),
			})
		}
	}
	return matched
}

// fromCampaign flattens the remote campaign shape into a Message.
func fromCampaign(campaign pptypes.InAppMessageCampaign) Message {
	m := Message{
		CampaignID:  strVal(campaign.CampaignId),
		TreatmentID: strVal(campaign.TreatmentId),
	}
	if campaign.Priority != nil {
		m.Priority = *campaign.Priority
	}
	if msg := campaign.InAppMessage; msg != nil {
		m.Layout = string(msg.Layout)
		m.CustomConfig = msg.CustomConfig
		for _, content := range msg.Content {
			m.Content = append(m.Content, fromContent(content))
		}
	}
	if campaign.Schedule != nil && campaign.Schedule.EventFilter != nil {
		m.Trigger = fromEventFilter(campaign.Schedule.EventFilter)
	}
	return m
}

func fromContent(content pptypes.InAppMessageContent) Content {
	c := Content{
		ImageURL:        strVal(content.ImageUrl),
		BackgroundColor: strVal(content.BackgroundColor),
	}
	if content.HeaderConfig != nil {
		c.Header = strVal(content.HeaderConfig.Header)
	}
	if content.BodyConfig != nil {
		c.Body = strVal(content.BodyConfig.Body)
	}
	c.PrimaryButton = fromButton(content.PrimaryBtn)
	c.SecondaryButton = fromButton(content.SecondaryBtn)
	return c
}

func fromButton(btn *pptypes.InAppMessageButton) *Button {
	if btn == nil || btn.DefaultConfig == nil {
		return nil
	}
	return &Button{
		Text:            strVal(btn.DefaultConfig.Text),
		Link:            strVal(btn.DefaultConfig.Link),
		BackgroundColor: strVal(btn.DefaultConfig.BackgroundColor),
	}
}

func fromEventFilter(filter *pptypes.CampaignEventFilter) *Trigger {
	if filter.Dimensions == nil {
		return nil
	}
	t := &Trigger{}
	if et := filter.Dimensions.EventType; et != nil {
		t.EventNames = et.Values
		t.Exclude = et.DimensionType == pptypes.DimensionTypeExclusive
	}
	if len(filter.Dimensions.Attributes) > 0 {
		t.Attributes = make(map[string][]string, len(filter.Dimensions.Attributes))
		for name, dim := range filter.Dimensions.Attributes {
			t.Attributes[name] = dim.Values
		}
	}
	return t
}

func strVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
