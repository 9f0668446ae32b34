package rtc

import "github.com/pion/webrtc/v4"

// DataChannel is the capability port the transfer pipelines (C8/C9) depend
// on, rather than pion's concrete type — the same "depend on a narrow port,
// not the library" shape as the teacher's internal/webrtc.DataChannel
// wrapper, generalized to an ordered, text-and-binary channel.
type DataChannel interface {
	Send([]byte) error
	SendText(string) error
	BufferedAmount() uint64
	SetBufferedAmountLowThreshold(uint64)
	OnBufferedAmountLow(func())
	OnOpen(func())
	OnClose(func())
	OnError(func(error))
	OnMessage(func(data []byte, isText bool))
	Close() error
	ReadyState() webrtc.DataChannelState
}

type pionDataChannel struct {
	raw *webrtc.DataChannel
}

func wrapDataChannel(raw *webrtc.DataChannel) DataChannel {
	return &pionDataChannel{raw: raw}
}

func (c *pionDataChannel) Send(b []byte) error     { return c.raw.Send(b) }
func (c *pionDataChannel) SendText(s string) error { return c.raw.SendText(s) }
func (c *pionDataChannel) BufferedAmount() uint64  { return c.raw.BufferedAmount() }

func (c *pionDataChannel) SetBufferedAmountLowThreshold(n uint64) {
	c.raw.SetBufferedAmountLowThreshold(n)
}

func (c *pionDataChannel) OnBufferedAmountLow(fn func()) { c.raw.OnBufferedAmountLow(fn) }
func (c *pionDataChannel) OnOpen(fn func())              { c.raw.OnOpen(fn) }
func (c *pionDataChannel) OnClose(fn func())             { c.raw.OnClose(fn) }
func (c *pionDataChannel) OnError(fn func(error))        { c.raw.OnError(fn) }

func (c *pionDataChannel) OnMessage(fn func(data []byte, isText bool)) {
	c.raw.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data, msg.IsString)
	})
}

func (c *pionDataChannel) Close() error                        { return c.raw.Close() }
func (c *pionDataChannel) ReadyState() webrtc.DataChannelState { return c.raw.ReadyState() }
