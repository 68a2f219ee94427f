package api

import (
	"github.com/google/uuid"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/database"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/models"
)

// UserProfile is the request-side user profile.
type UserProfile struct {
	TargetMarket string `json:"target_market"`
	SupplyChain  string `json:"supply_chain"`
	SellerType   string `json:"seller_type"`
	MinPrice     *int   `json:"min_price,omitempty"`
	MaxPrice     *int   `json:"max_price,omitempty"`
}

// MarketInsightRequest is the body of POST /stream and POST /generate.
// Pointer fields distinguish "absent" from meaningful zero values, since
// debate_rounds 0 and backoff 0 are both valid requests.
type MarketInsightRequest struct {
	SessionID string       `json:"session_id,omitempty"`
	Profile   *UserProfile `json:"profile,omitempty"`

	DebateRounds   *int  `json:"debate_rounds,omitempty"`
	EnableFollowup *bool `json:"enable_followup,omitempty"`

	EnableWebsearch bool `json:"enable_websearch"`

	RetryMaxAttempts int    `json:"retry_max_attempts,omitempty"`
	RetryBackoffMs   *int   `json:"retry_backoff_ms,omitempty"`
	DegradeMode      string `json:"degrade_mode,omitempty"`
}

// resolveSessionID returns the requested id or generates one.
func (r *MarketInsightRequest) resolveSessionID() string {
	if r.SessionID != "" {
		return r.SessionID
	}
	return uuid.NewString()
}

// profile converts the request profile, tolerating its absence.
func (r *MarketInsightRequest) profile() models.Profile {
	if r.Profile == nil {
		return models.Profile{}
	}
	return models.Profile{
		TargetMarket: r.Profile.TargetMarket,
		SupplyChain:  r.Profile.SupplyChain,
		SellerType:   r.Profile.SellerType,
		MinPrice:     r.Profile.MinPrice,
		MaxPrice:     r.Profile.MaxPrice,
	}
}

// buildState assembles the initial graph state for one run. Engine-side
// normalization clamps everything again; defaults applied here only cover
// fields whose absence differs from zero.
func (s *Server) buildState(req *MarketInsightRequest, sessionID string) *models.GraphState {
	rounds := s.settings.DefaultDebateRounds
	if req.DebateRounds != nil {
		rounds = *req.DebateRounds
	}
	followup := s.settings.EnableFollowup
	if req.EnableFollowup != nil {
		followup = *req.EnableFollowup
	}
	backoff := 300
	if req.RetryBackoffMs != nil {
		backoff = *req.RetryBackoffMs
	}
	attempts := req.RetryMaxAttempts
	if attempts < 1 {
		attempts = 2
	}
	mode := models.DegradeMode(req.DegradeMode)
	if !mode.Valid() {
		mode = models.DegradePartial
	}

	return &models.GraphState{
		SessionID:       sessionID,
		UserProfile:     req.profile(),
		DebateRounds:    rounds,
		EnableFollowup:  followup,
		EnableWebsearch: req.EnableWebsearch,
		RetryMaxAttempt: attempts,
		RetryBackoffMs:  backoff,
		DegradeMode:     mode,
	}
}

// sessionConfig mirrors the effective run configuration for persistence.
func sessionConfig(st *models.GraphState) database.SessionConfig {
	return database.SessionConfig{
		DebateRounds:    st.DebateRounds,
		EnableFollowup:  st.EnableFollowup,
		EnableWebsearch: st.EnableWebsearch,
	}
}
