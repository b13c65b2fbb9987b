package workflow

// Name is the program name printed by the version command.
const Name = "runner-sync"

// VersionLine is the output of the version command.
func VersionLine(version string) string {
	return Name + " v" + version
}
