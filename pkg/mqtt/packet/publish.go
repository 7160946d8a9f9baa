package packet

// PUBLISH fixed-header flag bits (MQTT 3.1.1, section 3.3.1).
const (
	publishFlagRetain = byte(0x01)
	publishFlagDup    = byte(0x08)
	publishQoSMask    = byte(0x06)
	publishQoSShift   = 1
)

// Publish carries one application message in either direction.
type Publish struct {
	// TopicName is the topic the message is published to. It must be a
	// concrete name; wildcards are only legal in subscription filters.
	TopicName string

	// Payload is the application data. It may be empty.
	Payload []byte

	// ID is the packet identifier. It appears on the wire only when
	// QoS > 0 and must then be non-zero.
	ID uint16

	// QoS is the delivery level, 0 to 2.
	QoS byte

	Retain bool
	Dup    bool
}

func (p *Publish) Type() Type { return PUBLISH }

func (p *Publish) flags() byte {
	f := p.QoS << publishQoSShift
	if p.Retain {
		f |= publishFlagRetain
	}
	if p.Dup {
		f |= publishFlagDup
	}
	return f
}

func (p *Publish) Encode() ([]byte, error) {
	if p.TopicName == "" {
		return nil, encodeErrf("PUBLISH topic must not be empty")
	}
	if p.QoS > 2 {
		return nil, encodeErrf("PUBLISH QoS %d out of range", p.QoS)
	}

	body := make([]byte, 0, 4+len(p.TopicName)+len(p.Payload))
	body = appendString(body, p.TopicName)
	if p.QoS > 0 {
		body = appendUint16(body, p.ID)
	}
	body = append(body, p.Payload...)
	return finish(PUBLISH, p.flags(), body)
}

func decodePublish(flags byte, body []byte) (Packet, error) {
	qos := (flags & publishQoSMask) >> publishQoSShift
	if qos > 2 {
		return nil, decodeErrf("PUBLISH QoS 3 is malformed")
	}

	p := &Publish{
		QoS:    qos,
		Retain: flags&publishFlagRetain != 0,
		Dup:    flags&publishFlagDup != 0,
	}

	var err error
	var rest []byte
	if p.TopicName, rest, err = readString(body); err != nil {
		return nil, err
	}
	if p.TopicName == "" {
		return nil, decodeErrf("PUBLISH topic must not be empty")
	}
	if qos > 0 {
		if p.ID, rest, err = readUint16(rest); err != nil {
			return nil, err
		}
	}
	p.Payload = cloneBytes(rest)
	return p, nil
}
