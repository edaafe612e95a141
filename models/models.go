package models

import "time"

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

type User struct {
	ID       int64
	Name     string
	Password string // bcrypt hash, owned by the admission app's registration flow
}

type Message struct {
	ID         int64
	SenderID   int64
	ReceiverID int64
	Broadcast  bool // true when the row was produced by a broadcast fan-out
	Body       string
	Timestamp  time.Time
	Read       bool
}

type Presence struct {
	UserID     int64
	Status     string
	LastActive time.Time
}
