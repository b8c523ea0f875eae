package models

import "time"

// Alert fires when any market in a region reaches a probability threshold.
type Alert struct {
	ID        string    `bson:"alert_id" json:"id"`
	Region    string    `bson:"region" json:"region"`
	Threshold int       `bson:"threshold" json:"threshold"` // percent, 1..99
	CreatedAt time.Time `bson:"created_at" json:"created"`
}

// AlertTrigger records an alert firing against a specific market.
type AlertTrigger struct {
	AlertID     string    `bson:"alert_id" json:"alertId"`
	Region      string    `bson:"region" json:"region"`
	Threshold   int       `bson:"threshold" json:"threshold"`
	EventID     string    `bson:"event_id" json:"eventId"`
	MarketTitle string    `bson:"market_title" json:"marketTitle"`
	Probability int       `bson:"probability" json:"probability"`
	TriggeredAt time.Time `bson:"triggered_at" json:"triggeredAt"`
}
