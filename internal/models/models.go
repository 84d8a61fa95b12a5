package models

import (
	"errors"
	"image"
	"time"
)

type CommandAction string

const (
	CommandStart  CommandAction = "start"
	CommandStop   CommandAction = "stop"
	CommandManual CommandAction = "manual"
)

// Frame is one captured raster with its capture time
type Frame struct {
	Image      image.Image
	CapturedAt time.Time
}

// MotionRegion описывает одну связную область изменений
type MotionRegion struct {
	Box  image.Rectangle `json:"box"`
	Area int             `json:"area"`
}

// MotionEvent is created once per permitted report and consumed by a single dispatch.
type MotionEvent struct {
	ID        string
	Timestamp time.Time
	Frame     Frame
	Regions   []MotionRegion
	ClientID  string
}

// AgentCommand приходит из топика команд Kafka
type AgentCommand struct {
	ClientID string        `json:"client_id"`
	Action   CommandAction `json:"action"`
}

type Heartbeat struct {
	ClientID string `json:"client_id"`
}

type ImageUpload struct {
	ClientID string `json:"client_id"`
	Image    string `json:"image"`
}

type MotionNotify struct {
	ClientID string `json:"client_id"`
}

// MotionNotice is the image-less event mirrored to secondary sinks.
type MotionNotice struct {
	EventID   string         `json:"event_id"`
	ClientID  string         `json:"client_id"`
	Regions   []MotionRegion `json:"regions"`
	Delivered bool           `json:"delivered"`
	TimeStamp time.Time      `json:"timestamp"`
}

var (
	errEmptyClientID = errors.New("client_id is required")
	errEmptyImage    = errors.New("image is required")
)

func (h Heartbeat) Validate() error {
	if h.ClientID == "" {
		return errEmptyClientID
	}
	return nil
}

func (u ImageUpload) Validate() error {
	if u.ClientID == "" {
		return errEmptyClientID
	}
	if u.Image == "" {
		return errEmptyImage
	}
	return nil
}

func (n MotionNotify) Validate() error {
	if n.ClientID == "" {
		return errEmptyClientID
	}
	return nil
}

// Notice strips the frame from the event
func (e *MotionEvent) Notice(delivered bool) MotionNotice {
	return MotionNotice{
		EventID:   e.ID,
		ClientID:  e.ClientID,
		Regions:   e.Regions,
		Delivered: delivered,
		TimeStamp: e.Timestamp.UTC(),
	}
}
