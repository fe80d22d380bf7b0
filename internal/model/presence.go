package model

import "time"

// PresenceRecord is what a member publishes into a presence channel.
type PresenceRecord struct {
	UserID   string    `json:"user_id"`
	OnlineAt time.Time `json:"online_at"`
}

// PresenceState is a channel's aggregate membership: member key to the
// records that member has published.
type PresenceState map[string][]PresenceRecord

// UserIDs flattens the state into the set of user ids present.
func (s PresenceState) UserIDs() map[string]struct{} {
	ids := make(map[string]struct{})
	for _, records := range s {
		for _, r := range records {
			ids[r.UserID] = struct{}{}
		}
	}
	return ids
}

// PresenceResponse lists the users currently online.
type PresenceResponse struct {
	Online []string `json:"online"`
}
