package packet

// PingReq is the client keep-alive probe.
type PingReq struct{}

func (PingReq) Type() Type              { return PINGREQ }
func (PingReq) Encode() ([]byte, error) { return finish(PINGREQ, 0, nil) }

// PingResp is the broker's answer to PingReq.
type PingResp struct{}

func (PingResp) Type() Type              { return PINGRESP }
func (PingResp) Encode() ([]byte, error) { return finish(PINGRESP, 0, nil) }

// Disconnect announces a clean departure. The client sends it and then
// closes the transport; no response follows.
type Disconnect struct{}

func (Disconnect) Type() Type              { return DISCONNECT }
func (Disconnect) Encode() ([]byte, error) { return finish(DISCONNECT, 0, nil) }

// decodeEmpty validates the body-less control packets.
func decodeEmpty(body []byte, p Packet) (Packet, error) {
	if len(body) != 0 {
		return nil, decodeErrf("%s carries no body, got %d bytes", p.Type(), len(body))
	}
	return p, nil
}
