package cookies

// Format identifies the format of a browser cookie store.
type Format int

const (
	FormatUnknown Format = iota
	FormatFirefox
	// Only unencrypted Chrome values can be imported.
	FormatChrome
	FormatNetscape
)

func (f Format) String() string {
	switch f {
	case FormatFirefox:
		return "Firefox"
	case FormatChrome:
		return "Chrome"
	case FormatNetscape:
		return "Netscape"
	default:
		return "unknown"
	}
}

// Source describes where an import read its cookies from.
type Source struct {
	Path   string
	Format Format
}

// Browser names the application that wrote the store.
func (s *Source) Browser() string {
	return s.Format.String()
}
