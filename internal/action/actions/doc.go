// Package actions registers the concrete action set. Each file covers one
// collection family; registration happens from init so importing the
// package populates the dispatcher's registry.
package actions

import (
	"github.com/plenumhq/plenum/internal/meta"
)

var reg = meta.Default()
