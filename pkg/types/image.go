package types

import "time"

// ImageStatus represents the build state of an image on the backend.
type ImageStatus string

const (
	ImageStatusBuilding ImageStatus = "building"
	ImageStatusReady    ImageStatus = "ready"
	ImageStatusError    ImageStatus = "error"
)

// Image represents a built image known to the backend.
type Image struct {
	Handle    string      `json:"imageHandle"`
	Status    ImageStatus `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
}

// ImageSpec is the request body for building an image. Exactly one of
// BaseImage, BaseHandle, or Dockerfile is set: BaseImage starts from a
// registry image, BaseHandle layers on top of a previously built image,
// Dockerfile builds from an uploaded build context.
type ImageSpec struct {
	BaseImage   string            `json:"baseImage,omitempty"`
	BaseHandle  string            `json:"baseHandle,omitempty"`
	Dockerfile  string            `json:"dockerfile,omitempty"`
	AptPackages []string          `json:"aptPackages,omitempty"`
	PipPackages []string          `json:"pipPackages,omitempty"`
	Commands    []string          `json:"commands,omitempty"`
	Env         map[string]string `json:"envs,omitempty"`
	Workdir     string            `json:"workdir,omitempty"`
	Layers      []Layer           `json:"layers,omitempty"`
}

// Layer describes one directory tree added on top of the base. The tree
// itself travels out of band as a compressed tar stream; the spec only
// carries where it lands.
type Layer struct {
	RemotePath string `json:"remotePath"`
}

// BuildResponse is returned when an image build is accepted.
type BuildResponse struct {
	Handle string `json:"imageHandle"`
}

// DirMapping is a local-to-remote directory pair, parsed from the CLI's
// "local:remote" argument form.
type DirMapping struct {
	Local  string `json:"local"`
	Remote string `json:"remote"`
}
