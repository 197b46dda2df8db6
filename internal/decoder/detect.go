package decoder

// SniffFunc reports whether a header (the first bytes of a file) is
// recognized by a particular native backend.
type SniffFunc func(header []byte) bool

// HeaderSniffLen is how many leading bytes callers should read before
// calling a SniffFunc; large enough for every registered sniffer.
const HeaderSniffLen = 16
