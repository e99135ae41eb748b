package build

var (
	Name    = "dunefmt"
	Version = "v0.0.1+dev"
)
