package crank

import "github.com/xraph/crank/id"

// ID is the primary identifier type for off-chain crank entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
