package model

// Header is one broker message header.
type Header struct {
	Key   string
	Value []byte
}

// Message is the unit handed to a broker producer.
type Message struct {
	Key     string
	Value   []byte
	Headers []Header
}
