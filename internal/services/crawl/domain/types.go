// Package domain holds the core data model shared between the indexer wire
// protocol, the block runner, and the hoster adapters
package domain

import (
	"encoding/json"
	"math"
	"time"
)

// Block status values as delivered by the indexer
const (
	BlockStatusReady = "ready"
	BlockStatusSleep = "sleep"
)

// ToIDUnbounded is the sentinel meaning "no upper bound" on an ID range
const ToIDUnbounded = -1

// BlockDescriptor is one unit of work handed out by the indexer.
// IDs, when non-empty, supersedes the FromID/ToID range
type BlockDescriptor struct {
	UID         string  `json:"uid"                    validate:"required"`
	Status      string  `json:"status,omitempty"       validate:"omitempty,oneof=ready sleep"`
	RetryAt     float64 `json:"retry_at,omitempty"`
	FromID      int64   `json:"from_id,omitempty"`
	ToID        int64   `json:"to_id,omitempty"`
	IDs         []int64 `json:"ids,omitempty"`
	CallbackURL string  `json:"callback_url,omitempty" validate:"omitempty,url"`

	HostingService HostingService `json:"hosting_service" validate:"required"`
}

// Sleeping reports whether the indexer asked the worker to pause
func (b *BlockDescriptor) Sleeping() bool { return b.Status == BlockStatusSleep }

// RetryAtTime converts the float epoch retry_at into a time.Time
func (b *BlockDescriptor) RetryAtTime() time.Time {
	sec, frac := math.Modf(b.RetryAt)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
}

// HostingService describes the hoster a block belongs to
type HostingService struct {
	ID     int64          `json:"id,omitempty"`
	Type   string         `json:"type"    validate:"required"`
	APIURL string         `json:"api_url" validate:"required,url"`
	APIKey CredentialSpec `json:"api_key,omitempty"`

	// CrawlerRequestHeaders are merged last onto every outbound request
	CrawlerRequestHeaders map[string]string `json:"crawler_request_headers,omitempty"`
}

// Record is one repository document exactly as the hoster API returned it.
// The core never normalizes across hosters; the indexer canonicalizes downstream
type Record map[string]any

// Chunk is one step of an adapter's lazy output.
// A Chunk with OK == false carries no records and must not contribute to the
// aggregate posted back to the indexer
type Chunk struct {
	OK      bool
	Records []Record
	State   State
}

// State is the resumable per-adapter cursor. It is opaque to everything but
// the owning adapter; the only cross-adapter contract is that it is
// JSON-serializable and that (adapter, state) determines the next request.
// Iter starts at -1 and is bumped once per SetState call
type State struct {
	FromID  int64   `json:"from_id,omitempty"`
	ToID    int64   `json:"to_id,omitempty"`
	IDs     []int64 `json:"ids,omitempty"`
	Page    int64   `json:"page,omitempty"`
	PerPage int64   `json:"per_page,omitempty"`
	PageEnd int64   `json:"page_end,omitempty"`
	IsDone  bool    `json:"is_done,omitempty"`

	// EmptyPageCount is monotonically non-decreasing within a run; it is reset
	// only by building fresh state from a BlockDescriptor
	EmptyPageCount int `json:"empty_page_count,omitempty"`

	Iter int `json:"i"`

	// CursorURL is the bitbucket continuation link
	CursorURL string `json:"url,omitempty"`

	// ExcludeTopics disables the gitea per-repo topics side fetch
	ExcludeTopics bool `json:"exclude_topics,omitempty"`
}

// StateFromBlock derives the default initial state: identity on the block's
// range fields. Adapters layer their own defaults on top via SetState
func StateFromBlock(b *BlockDescriptor) State {
	return State{
		FromID: b.FromID,
		ToID:   b.ToID,
		IDs:    b.IDs,
		Iter:   -1,
	}
}

// Hoster is one entry of the indexer's GET /api/v1/hosters listing
type Hoster struct {
	ID     int64  `json:"id"`
	Type   string `json:"type"`
	APIURL string `json:"api_url"`
}

// Credential is the tagged credential variant attached to a hosting service
type Credential interface{ credential() }

// NoCredential means the hoster is crawled anonymously
type NoCredential struct{}

// BearerToken is an opaque token sent as "Authorization: Bearer <t>"
type BearerToken struct{ Token string }

// BasicAuth is a username/password pair
type BasicAuth struct{ User, Pass string }

// OAuthClientCreds drive the bitbucket client-credentials token flow
type OAuthClientCreds struct{ ClientID, ClientSecret string }

func (NoCredential) credential()     {}
func (BearerToken) credential()      {}
func (BasicAuth) credential()        {}
func (OAuthClientCreds) credential() {}

// CredentialSpec decodes the indexer's api_key field, which is either an
// opaque string (bearer token) or a structured credential object
type CredentialSpec struct {
	Cred Credential
}

// Credential returns the decoded variant, defaulting to NoCredential
func (s CredentialSpec) Credential() Credential {
	if s.Cred == nil {
		return NoCredential{}
	}
	return s.Cred
}

// UnmarshalJSON accepts a bare string, null, or an object carrying either
// access_token, client_id/client_secret, or username/password
func (s *CredentialSpec) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		s.Cred = NoCredential{}
	case string:
		if v == "" {
			s.Cred = NoCredential{}
		} else {
			s.Cred = BearerToken{Token: v}
		}
	case map[string]any:
		s.Cred = credFromObject(v)
	default:
		s.Cred = NoCredential{}
	}
	return nil
}

// MarshalJSON emits the same shapes UnmarshalJSON accepts
func (s CredentialSpec) MarshalJSON() ([]byte, error) {
	switch c := s.Credential().(type) {
	case BearerToken:
		return json.Marshal(c.Token)
	case OAuthClientCreds:
		return json.Marshal(map[string]string{
			"client_id":     c.ClientID,
			"client_secret": c.ClientSecret,
		})
	case BasicAuth:
		return json.Marshal(map[string]string{
			"username": c.User,
			"password": c.Pass,
		})
	default:
		return []byte("null"), nil
	}
}

func credFromObject(m map[string]any) Credential {
	str := func(k string) string {
		if v, ok := m[k].(string); ok {
			return v
		}
		return ""
	}
	if t := str("access_token"); t != "" {
		return BearerToken{Token: t}
	}
	if id := str("client_id"); id != "" {
		return OAuthClientCreds{ClientID: id, ClientSecret: str("client_secret")}
	}
	if u := str("username"); u != "" {
		return BasicAuth{User: u, Pass: str("password")}
	}
	return NoCredential{}
}
