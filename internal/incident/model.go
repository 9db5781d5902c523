package incident

import (
	"context"
	"strconv"
)

// Incident is a flagged transaction record requiring triage. It is read-only to
// the workflows and serialized as-is as the request body for every remote call.
type Incident struct {
	TransactionID string         `json:"transaction_id,omitempty" yaml:"transaction_id"`
	Status        string         `json:"status,omitempty" yaml:"status"`
	Amount        float64        `json:"amount" yaml:"amount"`
	Currency      string         `json:"currency,omitempty" yaml:"currency"`
	SenderID      string         `json:"sender_id,omitempty" yaml:"sender_id"`
	ReceiverID    string         `json:"receiver_id,omitempty" yaml:"receiver_id"`
	Metadata      map[string]any `json:"metadata,omitempty" yaml:"metadata"`
	CreatedAt     string         `json:"created_at,omitempty" yaml:"created_at"`
}

// AlertSignal returns the fraud/error detection signal carried in the metadata bag.
func (i *Incident) AlertSignal() string {
	if i.Metadata == nil {
		return ""
	}
	s, _ := i.Metadata["error_detection_signal"].(string)
	return s
}

// Key returns the row identity of the incident: its transaction ID, or the
// decimal position in its source sequence when it has none.
func Key(inc *Incident, idx int) string {
	if inc.TransactionID != "" {
		return inc.TransactionID
	}
	return strconv.Itoa(idx)
}

// Entry is an incident paired with its resolved row key and source position.
type Entry struct {
	Key      string   `json:"key"`
	Index    int      `json:"index"`
	Incident Incident `json:"incident"`
}

// Entries keys a source sequence of incidents in order.
func Entries(incs []Incident) []Entry {
	out := make([]Entry, len(incs))
	for i := range incs {
		out[i] = Entry{Key: Key(&incs[i], i), Index: i, Incident: incs[i]}
	}
	return out
}

// Registry supplies the ordered incident set. Implementations are read-only.
type Registry interface {
	List(ctx context.Context) ([]Entry, error)
	Get(ctx context.Context, key string) (Entry, bool, error)
}

// Find looks key up in an already-listed entry set.
func Find(entries []Entry, key string) (Entry, bool) {
	for _, e := range entries {
		if e.Key == key {
			return e, true
		}
	}
	return Entry{}, false
}
