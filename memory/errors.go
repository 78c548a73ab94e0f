package memory

import "github.com/pkg/errors"

// NoSuitableMemoryTypeError is returned from Allocator.Allocate when no
// device memory type satisfies the property flags required by the requested
// usage class.
var NoSuitableMemoryTypeError error = errors.New("no memory type satisfies the required property flags")

// PageSizeExceededError is returned from Allocator.Allocate when the request
// is larger than a single page. The block/bitmap scheme only serves
// page-sized suballocations; larger resources take dedicated allocations
// through the device layer instead.
var PageSizeExceededError error = errors.New("allocation request exceeds one page")
