package domain

const (
	// PublisherCapacity bounds the registry's publisher allow-list.
	PublisherCapacity = 10

	// DefaultFreshnessWindow is the freshness window, in seconds, given to a
	// newly initialised registry.
	DefaultFreshnessWindow int64 = 3600
)

// Registry is the deployment-wide publisher allow-list and configuration.
// The publisher set is a fixed array with an explicit length; entries at
// index >= PublisherCount are zero.
type Registry struct {
	Authority       Identity
	Treasury        Identity
	FreshnessWindow int64 // seconds
	Publishers      [PublisherCapacity]Identity
	PublisherCount  int
}

// NewRegistry returns an empty registry owned by authority.
func NewRegistry(authority, treasury Identity, freshnessWindow int64) Registry {
	if freshnessWindow <= 0 {
		freshnessWindow = DefaultFreshnessWindow
	}
	return Registry{
		Authority:       authority,
		Treasury:        treasury,
		FreshnessWindow: freshnessWindow,
	}
}

// Authorize fails with ErrUnauthorized unless caller is the authority.
func (r Registry) Authorize(caller Identity) error {
	if caller != r.Authority {
		return ErrUnauthorized
	}
	return nil
}

// IsPublisher reports whether id is on the allow-list.
func (r Registry) IsPublisher(id Identity) bool {
	return r.indexOf(id) >= 0
}

// PublisherList returns the authorized publishers in insertion order.
func (r Registry) PublisherList() []Identity {
	out := make([]Identity, r.PublisherCount)
	copy(out, r.Publishers[:r.PublisherCount])
	return out
}

// AddPublisher appends publisher to the allow-list. Every check runs before
// the array is touched.
func (r *Registry) AddPublisher(caller, publisher Identity) error {
	if err := r.Authorize(caller); err != nil {
		return err
	}
	if r.IsPublisher(publisher) {
		return ErrPublisherAlreadyExists
	}
	if r.PublisherCount >= PublisherCapacity {
		return ErrPublisherListFull
	}
	r.Publishers[r.PublisherCount] = publisher
	r.PublisherCount++
	return nil
}

// RemovePublisher drops publisher from the allow-list, keeping the
// remaining entries contiguous and in order.
func (r *Registry) RemovePublisher(caller, publisher Identity) error {
	if err := r.Authorize(caller); err != nil {
		return err
	}
	i := r.indexOf(publisher)
	if i < 0 {
		return ErrPublisherNotFound
	}
	copy(r.Publishers[i:], r.Publishers[i+1:r.PublisherCount])
	r.PublisherCount--
	r.Publishers[r.PublisherCount] = Identity{}
	return nil
}

// SetFreshnessWindow replaces the submission freshness window.
func (r *Registry) SetFreshnessWindow(caller Identity, seconds int64) error {
	if err := r.Authorize(caller); err != nil {
		return err
	}
	if seconds <= 0 {
		return ErrInvalidInput
	}
	r.FreshnessWindow = seconds
	return nil
}

// IsFresh reports whether |now - ts| is within the freshness window.
func (r Registry) IsFresh(now, ts int64) bool {
	return withinBound(now, ts, r.FreshnessWindow)
}

func (r Registry) indexOf(id Identity) int {
	for i := 0; i < r.PublisherCount; i++ {
		if r.Publishers[i] == id {
			return i
		}
	}
	return -1
}

// withinBound reports |a - b| <= bound without overflowing for any pair of
// int64 values.
func withinBound(a, b, bound int64) bool {
	if bound < 0 {
		return false
	}
	var diff uint64
	if a >= b {
		diff = uint64(a) - uint64(b)
	} else {
		diff = uint64(b) - uint64(a)
	}
	return diff <= uint64(bound)
}
