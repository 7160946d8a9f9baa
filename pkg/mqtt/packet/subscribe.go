package packet

// subscribeFlags is the fixed value 3.1.1 reserves for the SUBSCRIBE
// header's low nibble.
const subscribeFlags = byte(0x02)

// SubAckFailure is the SUBACK return code marking a refused subscription.
const SubAckFailure = byte(0x80)

// TopicFilter pairs a subscription filter with its requested QoS.
type TopicFilter struct {
	Name string
	QoS  byte
}

// Subscribe asks the broker for one or more subscriptions.
type Subscribe struct {
	// ID is the packet identifier echoed back in the matching SUBACK.
	// It must be non-zero.
	ID uint16

	Topics []TopicFilter
}

func (s *Subscribe) Type() Type { return SUBSCRIBE }

func (s *Subscribe) Encode() ([]byte, error) {
	if len(s.Topics) == 0 {
		return nil, encodeErrf("SUBSCRIBE needs at least one topic")
	}

	size := 2
	for _, t := range s.Topics {
		size += 3 + len(t.Name)
	}
	body := make([]byte, 0, size)
	body = appendUint16(body, s.ID)
	for _, t := range s.Topics {
		if t.QoS > 2 {
			return nil, encodeErrf("SUBSCRIBE QoS %d out of range for topic %q", t.QoS, t.Name)
		}
		body = appendString(body, t.Name)
		body = append(body, t.QoS)
	}
	return finish(SUBSCRIBE, subscribeFlags, body)
}

func decodeSubscribe(flags byte, body []byte) (Packet, error) {
	if flags != subscribeFlags {
		return nil, decodeErrf("SUBSCRIBE header flags must be %d, got %d", subscribeFlags, flags)
	}

	s := &Subscribe{}
	var err error
	var rest []byte
	if s.ID, rest, err = readUint16(body); err != nil {
		return nil, err
	}
	for len(rest) > 0 {
		var t TopicFilter
		if t.Name, rest, err = readString(rest); err != nil {
			return nil, err
		}
		if len(rest) < 1 {
			return nil, decodeErrf("SUBSCRIBE topic %q is missing its QoS byte", t.Name)
		}
		t.QoS, rest = rest[0], rest[1:]
		if t.QoS > 2 {
			return nil, decodeErrf("SUBSCRIBE QoS %d out of range for topic %q", t.QoS, t.Name)
		}
		s.Topics = append(s.Topics, t)
	}
	if len(s.Topics) == 0 {
		return nil, decodeErrf("SUBSCRIBE needs at least one topic")
	}
	return s, nil
}

// SubAck reports the QoS the broker granted for each requested
// subscription, in request order.
type SubAck struct {
	ID uint16

	// Codes holds one granted QoS per topic, or SubAckFailure.
	Codes []byte
}

func (s *SubAck) Type() Type { return SUBACK }

func (s *SubAck) Encode() ([]byte, error) {
	body := make([]byte, 0, 2+len(s.Codes))
	body = appendUint16(body, s.ID)
	body = append(body, s.Codes...)
	return finish(SUBACK, 0, body)
}

func decodeSubAck(body []byte) (Packet, error) {
	s := &SubAck{}
	var err error
	var rest []byte
	if s.ID, rest, err = readUint16(body); err != nil {
		return nil, err
	}
	s.Codes = cloneBytes(rest)
	return s, nil
}
