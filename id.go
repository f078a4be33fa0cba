package hashfleet

import "github.com/hashfleet/hashfleet/id"

// ID is the primary identifier type for all HashFleet entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
