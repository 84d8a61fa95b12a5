package models

// EventRecord is what secondary sinks receive after a report attempt.
type EventRecord struct {
	Event       *MotionEvent
	Image       []byte // encoded frame, empty if encoding failed
	DeliveryErr error
}

func (r EventRecord) Delivered() bool {
	return r.DeliveryErr == nil
}
