/*
Package user contains the minimal identity projection the realtime core works with.

The full user record (credentials, settings, workspace roles) lives behind the
REST layer; the realtime core only ever needs the fields that appear on the wire.
*/
package user

// Presence status values persisted to the durable store and pushed in
// user_list_update events.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Profile represents the identity projection resolved for an authenticated
// connection. Fields use JSON tags for serialization in wire events.
type Profile struct {
	// ID is the unique identifier for the user, assigned by the durable store.
	ID string `json:"id"`

	// Name is the display name shown next to messages and presence entries.
	Name string `json:"name"`

	// Avatar is the URL for the user's avatar image.
	Avatar string `json:"avatar,omitempty"`

	// Status is the derived presence status ("online" / "offline").
	Status string `json:"status,omitempty"`
}
