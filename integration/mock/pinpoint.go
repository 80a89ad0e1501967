package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/pinpoint"
	pptypes "github.com/aws/aws-sdk-go-v2/service/pinpoint/types"
)

// Pinpoint is a mock event and messaging backend. Submitted events are
// accepted with 202 and retained per endpoint, endpoint updates are stored,
// and in-app message syncs serve whatever campaigns the test configured.
type Pinpoint struct {
	mu        sync.Mutex
	events    map[string][]pptypes.Event // endpoint ID -> accepted events
	endpoints map[string]pptypes.EndpointRequest
	campaigns []pptypes.InAppMessageCampaign

	putCalls int

	failNextPutEvents error
}

// NewPinpoint creates an empty mock backend.
func NewPinpoint() *Pinpoint {
	return &Pinpoint{
		events:    make(map[string][]pptypes.Event),
		endpoints: make(map[string]pptypes.EndpointRequest),
	}
}

// SetCampaigns configures what GetInAppMessages serves.
func (p *Pinpoint) SetCampaigns(campaigns ...pptypes.InAppMessageCampaign) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.campaigns = campaigns
}

// SetFailNextPutEvents makes the next PutEvents call fail with err.
func (p *Pinpoint) SetFailNextPutEvents(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNextPutEvents = err
}

// EventsFor returns every event accepted for the endpoint.
func (p *Pinpoint) EventsFor(endpointID string) []pptypes.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pptypes.Event(nil), p.events[endpointID]...)
}

// Endpoint returns the last endpoint update stored for the ID.
func (p *Pinpoint) Endpoint(endpointID string) (pptypes.EndpointRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req, ok := p.endpoints[endpointID]
	return req, ok
}

// PutEventsCalls returns how many PutEvents batches were received.
func (p *Pinpoint) PutEventsCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.putCalls
}

func (p *Pinpoint) PutEvents(ctx context.Context, in *pinpoint.PutEventsInput, _ ...func(*pinpoint.Options)) (*pinpoint.PutEventsOutput, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.putCalls++

	if err := p.failNextPutEvents; err != nil {
		p.failNextPutEvents = nil
		return nil, err
	}
	if in.EventsRequest == nil {
		return nil, fmt.Errorf("events request missing")
	}

	accepted := int32(202)
	message := "Accepted"
	results := make(map[string]pptypes.ItemResponse, len(in.EventsRequest.BatchItem))
	for endpointID, batch := range in.EventsRequest.BatchItem {
		itemResults := make(map[string]pptypes.EventItemResponse, len(batch.Events))
		for eventID, event := range batch.Events {
			p.events[endpointID] = append(p.events[endpointID], event)
			itemResults[eventID] = pptypes.EventItemResponse{StatusCode: &accepted, Message: &message}
		}
		results[endpointID] = pptypes.ItemResponse{EventsItemResponse: itemResults}
	}
	return &pinpoint.PutEventsOutput{
		EventsResponse: &pptypes.EventsResponse{Results: results},
	}, nil
}

func (p *Pinpoint) UpdateEndpoint(ctx context.Context, in *pinpoint.UpdateEndpointInput, _ ...func(*pinpoint.Options)) (*pinpoint.UpdateEndpointOutput, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if in.EndpointRequest != nil {
		p.endpoints[strVal(in.EndpointId)] = *in.EndpointRequest
	}
	return &pinpoint.UpdateEndpointOutput{
		MessageBody: &pptypes.MessageBody{},
	}, nil
}

func (p *Pinpoint) GetInAppMessages(ctx context.Context, in *pinpoint.GetInAppMessagesInput, _ ...func(*pinpoint.Options)) (*pinpoint.GetInAppMessagesOutput, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return &pinpoint.GetInAppMessagesOutput{
		InAppMessagesResponse: &pptypes.InAppMessagesResponse{
			InAppMessageCampaigns: append([]pptypes.InAppMessageCampaign(nil), p.campaigns...),
		},
	}, nil
}
