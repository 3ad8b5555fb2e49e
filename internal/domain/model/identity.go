package model

import "time"

// SubscriptionStatus is the cached snapshot the engine consumes. Billing and
// renewal happen in the payment processor; only the boolean matters here.
type SubscriptionStatus struct {
	Active   bool      `json:"active"`
	RenewsAt time.Time `json:"renews_at"`
}

// Identity describes the signed-in user as reported by the identity store.
// A nil Identity means the client is anonymous (guest).
type Identity struct {
	ID           string             `json:"id"`
	Email        string             `json:"email"`
	Role         string             `json:"role"`
	Subscription SubscriptionStatus `json:"subscription"`
}

func (i *Identity) SignedIn() bool { return i != nil && i.ID != "" }

// Preferences are the device-echoed configuration knobs, persisted only when
// Remember is set.
type Preferences struct {
	Remember    bool   `json:"remember"`
	Region      string `json:"region"`
	Country     string `json:"country"`
	Language    string `json:"language"`
	FontSize    int    `json:"font_size"`
	ShortAnswer bool   `json:"short_answer"`
}
