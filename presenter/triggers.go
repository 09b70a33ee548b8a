package presenter

import "github.com/srg/gattmux/internal/stream"

// Triggers bundles the command streams the driver consumes. All
// channels are hot: an emission with no active consumer is dropped,
// matching click semantics, and none of them carries buffering beyond
// what the producer chooses.
type Triggers struct {
	// Session lifecycle.
	Connect       <-chan struct{}
	CancelConnect <-chan struct{} // tear down before the connection is ready
	Disconnect    <-chan struct{} // tear down once the session is active

	// Operation lanes.
	Read  <-chan struct{}
	Write <-chan []byte // payload to write

	// Notification control.
	EnableNotify  <-chan struct{}
	CancelNotify  <-chan struct{} // abort before the subscription is active
	DisableNotify <-chan struct{}

	// Indication control.
	EnableIndicate  <-chan struct{}
	CancelIndicate  <-chan struct{}
	DisableIndicate <-chan struct{}
}

// TriggerSource is the producing side of a Triggers bundle. Fire
// methods never block: an emission nobody is currently waiting for is
// dropped, the same way a click on an idle control goes nowhere.
type TriggerSource struct {
	connect       chan struct{}
	cancelConnect chan struct{}
	disconnect    chan struct{}

	read  chan struct{}
	write *stream.RingChannel[[]byte]

	enableNotify  chan struct{}
	cancelNotify  chan struct{}
	disableNotify chan struct{}

	enableIndicate  chan struct{}
	cancelIndicate  chan struct{}
	disableIndicate chan struct{}
}

// NewTriggerSource creates a trigger bundle producer. Write payloads
// ride a small ring so a burst of writes queues instead of being
// dropped while the lane is mid-operation.
func NewTriggerSource() *TriggerSource {
	return &TriggerSource{
		connect:         make(chan struct{}),
		cancelConnect:   make(chan struct{}),
		disconnect:      make(chan struct{}),
		read:            make(chan struct{}),
		write:           stream.NewRingChannel[[]byte](8),
		enableNotify:    make(chan struct{}),
		cancelNotify:    make(chan struct{}),
		disableNotify:   make(chan struct{}),
		enableIndicate:  make(chan struct{}),
		cancelIndicate:  make(chan struct{}),
		disableIndicate: make(chan struct{}),
	}
}

// Triggers returns the consumer view wired to this source.
func (s *TriggerSource) Triggers() Triggers {
	return Triggers{
		Connect:         s.connect,
		CancelConnect:   s.cancelConnect,
		Disconnect:      s.disconnect,
		Read:            s.read,
		Write:           s.write.C(),
		EnableNotify:    s.enableNotify,
		CancelNotify:    s.cancelNotify,
		DisableNotify:   s.disableNotify,
		EnableIndicate:  s.enableIndicate,
		CancelIndicate:  s.cancelIndicate,
		DisableIndicate: s.disableIndicate,
	}
}

func fire(ch chan struct{}) bool {
	select {
	case ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Connect requests a new session. Ignored while one is active.
func (s *TriggerSource) Connect() bool { return fire(s.connect) }

// CancelConnect aborts connection establishment before it completes.
func (s *TriggerSource) CancelConnect() bool { return fire(s.cancelConnect) }

// Disconnect ends the active session.
func (s *TriggerSource) Disconnect() bool { return fire(s.disconnect) }

// Read requests one characteristic read.
func (s *TriggerSource) Read() bool { return fire(s.read) }

// Write queues one characteristic write carrying data.
func (s *TriggerSource) Write(data []byte) {
	s.write.Send(data)
}

// EnableNotify arms the notification side of the subscription race.
func (s *TriggerSource) EnableNotify() bool { return fire(s.enableNotify) }

// CancelNotify aborts notification setup before it becomes active.
func (s *TriggerSource) CancelNotify() bool { return fire(s.cancelNotify) }

// DisableNotify ends an active notification subscription.
func (s *TriggerSource) DisableNotify() bool { return fire(s.disableNotify) }

// EnableIndicate arms the indication side of the subscription race.
func (s *TriggerSource) EnableIndicate() bool { return fire(s.enableIndicate) }

// CancelIndicate aborts indication setup before it becomes active.
func (s *TriggerSource) CancelIndicate() bool { return fire(s.cancelIndicate) }

// DisableIndicate ends an active indication subscription.
func (s *TriggerSource) DisableIndicate() bool { return fire(s.disableIndicate) }
