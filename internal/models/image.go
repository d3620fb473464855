package models

// FetchType selects which artifacts a fetch retrieves for an image.
type FetchType string

// Supported fetch types.
const (
	FetchImageOnly            FetchType = "image-only"
	FetchImageKernelAndInitrd FetchType = "image-kernel-initrd"
)

// Query is a request for an image by release, optionally bound to an
// instance name. Release may carry a "remote:release" form; the catalog
// host resolves the remote part.
type Query struct {
	Name       string
	Release    string
	Persistent bool
}

// VMImageInfo is the catalog's answer for a query: the content identity of
// an image version plus the locations of its artifacts. KernelLocation and
// InitrdLocation may be empty.
type VMImageInfo struct {
	ID             string
	Release        string
	Version        string
	ImageLocation  string
	KernelLocation string
	InitrdLocation string
}

// VMImage is an artifact triple on disk. KernelPath and InitrdPath may be
// empty. ID is the catalog id that produced the artifact.
type VMImage struct {
	ImagePath  string
	KernelPath string
	InitrdPath string
	ID         string
}

// ProgressMonitor receives periodic download progress as a fraction in
// [0, 1].
type ProgressMonitor func(fraction float64)

// Prepare transforms downloaded source artifacts into the form the
// hypervisor consumes. It may return the input unchanged, or write new
// files alongside the source and return paths to them.
type Prepare func(source VMImage) (VMImage, error)
