package notify

// Fanout routes events to both live event streams and registered
// webhooks. Student events stay on the stream side; staff and
// broadcast events additionally go out over HTTP.
type Fanout struct {
	hub    *Hub
	sender *WebhookSender
}

func NewFanout(hub *Hub, sender *WebhookSender) *Fanout {
	return &Fanout{hub: hub, sender: sender}
}

func (f *Fanout) NotifyStudent(studentID, event string, data interface{}) {
	f.hub.NotifyStudent(studentID, event, data)
}

func (f *Fanout) NotifyStaff(event string, data interface{}) {
	f.hub.NotifyStaff(event, data)
	if f.sender != nil {
		f.sender.Send(event, data)
	}
}

func (f *Fanout) Broadcast(event string, data interface{}) {
	f.hub.Broadcast(event, data)
	if f.sender != nil {
		f.sender.Send(event, data)
	}
}
