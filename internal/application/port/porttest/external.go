package porttest

import (
	"context"
	"sync"

	"github.com/garyjia/bonus-orchestrator/internal/application/port"
)

// Inquiry is a scripted InquiryClient. Responses are consumed in order; the
// last one repeats.
type Inquiry struct {
	mu        sync.Mutex
	responses []InquiryResponse
	calls     []string
}

// InquiryResponse is one scripted answer
type InquiryResponse struct {
	Result *port.InquiryResult
	Err    error
}

// NewInquiry returns a client answering with responses
func NewInquiry(responses ...InquiryResponse) *Inquiry {
	return &Inquiry{responses: responses}
}

func (f *Inquiry) Inquire(ctx context.Context, applicantID string) (*port.InquiryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, applicantID)
	r := next(f.responses, len(f.calls))
	if r.Err != nil {
		return nil, r.Err
	}
	if r.Result == nil {
		return &port.InquiryResult{Outcome: port.InquiryDataNotFound}, nil
	}
	cp := *r.Result
	cp.FamilyMembers = append([]string(nil), r.Result.FamilyMembers...)
	return &cp, nil
}

// Calls returns the applicant ids queried so far
func (f *Inquiry) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Grant is a scripted GrantClient
type Grant struct {
	mu        sync.Mutex
	responses []GrantResponse
	snapshots []port.GrantSnapshot
}

// GrantResponse is one scripted answer
type GrantResponse struct {
	Result *port.GrantResult
	Err    error
}

// NewGrant returns a client answering with responses
func NewGrant(responses ...GrantResponse) *Grant {
	return &Grant{responses: responses}
}

func (f *Grant) Grant(ctx context.Context, snapshot *port.GrantSnapshot) (*port.GrantResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, *snapshot)
	r := next(f.responses, len(f.snapshots))
	if r.Err != nil {
		return nil, r.Err
	}
	if r.Result == nil {
		return &port.GrantResult{Granted: true}, nil
	}
	cp := *r.Result
	return &cp, nil
}

// Snapshots returns every submitted snapshot
func (f *Grant) Snapshots() []port.GrantSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]port.GrantSnapshot(nil), f.snapshots...)
}

// Notifier records messages and answers with scripted status codes
type Notifier struct {
	mu        sync.Mutex
	responses []NotifierResponse
	messages  []Message
}

// NotifierResponse is one scripted answer
type NotifierResponse struct {
	StatusCode int
	Err        error
}

// Message is one delivered notification
type Message struct {
	ApplicantID string
	Content     string
}

// NewNotifier returns a sender answering with responses, 200 when empty
func NewNotifier(responses ...NotifierResponse) *Notifier {
	return &Notifier{responses: responses}
}

func (f *Notifier) Send(ctx context.Context, applicantID, content string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, Message{ApplicantID: applicantID, Content: content})
	r := next(f.responses, len(f.messages))
	if r.Err != nil {
		return 0, r.Err
	}
	if r.StatusCode == 0 {
		return 200, nil
	}
	return r.StatusCode, nil
}

// Messages returns every send attempt
func (f *Notifier) Messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.messages...)
}

// Alerter records ops alerts
type Alerter struct {
	mu     sync.Mutex
	alerts []string
	Err    error
}

func (f *Alerter) Alert(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, text)
	return f.Err
}

// Alerts returns every alert text
func (f *Alerter) Alerts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.alerts...)
}

// next picks the n-th (1-based) response, repeating the last one
func next[T any](responses []T, n int) T {
	var zero T
	if len(responses) == 0 {
		return zero
	}
	if n > len(responses) {
		return responses[len(responses)-1]
	}
	return responses[n-1]
}

var (
	_ port.InquiryClient      = (*Inquiry)(nil)
	_ port.GrantClient        = (*Grant)(nil)
	_ port.NotificationSender = (*Notifier)(nil)
	_ port.OpsAlerter         = (*Alerter)(nil)
)
