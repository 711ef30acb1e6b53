package ui

const (
	// Standard colors
	Red     = "\033[31m"
	Green   = "\033[32m"
	Yellow  = "\033[33m"
	Blue    = "\033[34m"
	Magenta = "\033[35m"
	Cyan    = "\033[36m"
	Gray    = "\033[90m" // Bright black, often appears as gray

	ResetColor = "\033[0m" // Reset to default color
)

var MethodColors = map[string]string{
	"GET":    Green,
	"POST":   Blue,
	"PUT":    Cyan,
	"DELETE": Yellow,
	"PATCH":  Magenta,
}

// Method wraps an HTTP method in its color, gray for unknown methods.
func Method(method string) string {
	color, ok := MethodColors[method]
	if !ok {
		color = Gray
	}
	return color + method + ResetColor
}

// StatusColor picks a color by response status class.
func StatusColor(code int) string {
	switch {
	case code >= 500:
		return Red
	case code >= 400:
		return Yellow
	default:
		return Green
	}
}
