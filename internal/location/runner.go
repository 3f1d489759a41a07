package location

// Runner operating systems as CI workflows name them.
const (
	OSLinux   = "linux"
	OSMacOS   = "macos"
	OSWindows = "windows"
)

// RunnerOS maps a GOOS value to the CI runner OS name. The second result is
// false for platforms hosted runners do not offer.
func RunnerOS(goos string) (string, bool) {
	switch goos {
	case "linux":
		return OSLinux, true
	case "darwin":
		return OSMacOS, true
	case "windows":
		return OSWindows, true
	default:
		return "", false
	}
}

