package session

// Multi fans session events out to several notifiers in order.
func Multi(notifiers ...Notifier) Notifier {
	return multiNotifier(notifiers)
}

type multiNotifier []Notifier

func (m multiNotifier) SessionStarted(sessionID string) {
	for _, n := range m {
		n.SessionStarted(sessionID)
	}
}

func (m multiNotifier) SessionEnded(sessionID, reason string) {
	for _, n := range m {
		n.SessionEnded(sessionID, reason)
	}
}

func (m multiNotifier) StateChanged(sessionID string, from, to State) {
	for _, n := range m {
		n.StateChanged(sessionID, from, to)
	}
}

func (m multiNotifier) InterimTranscript(sessionID, text string, confidence float64) {
	for _, n := range m {
		n.InterimTranscript(sessionID, text, confidence)
	}
}

func (m multiNotifier) FinalTranscript(sessionID, text string, confidence float64) {
	for _, n := range m {
		n.FinalTranscript(sessionID, text, confidence)
	}
}

func (m multiNotifier) AssistantReply(sessionID, text string) {
	for _, n := range m {
		n.AssistantReply(sessionID, text)
	}
}

func (m multiNotifier) SessionError(sessionID string, err error) {
	for _, n := range m {
		n.SessionError(sessionID, err)
	}
}
