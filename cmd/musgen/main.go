// musgen regenerates the MUS serializers in core/records_mus.gen.go.
// The committed file additionally bounds decoded collection lengths against
// the input size and encodes the zero time as 0; re-apply both after
// regenerating.
package main

import (
	"os"
	"reflect"
	"strings"

	musgen "github.com/mus-format/musgen-go/mus"
	genops "github.com/mus-format/musgen-go/options/generate"
	structops "github.com/mus-format/musgen-go/options/struct"
	typeops "github.com/mus-format/musgen-go/options/type"
	"github.com/poiesic/groundrag/core"
)

func main() {
	cwd, err := os.Getwd()
	if err != nil {
		panic(err)
	}
	if strings.HasSuffix(cwd, "core") {
		if err := os.Chdir(".."); err != nil {
			panic(err)
		}
	}
	g, err := musgen.NewCodeGenerator(
		genops.WithPkgPath("github.com/poiesic/groundrag/core"),
	)
	if err != nil {
		panic(err)
	}

	g.AddDefinedType(reflect.TypeFor[core.ID]())

	micros := typeops.WithTimeUnit(typeops.Micro)

	// ID, SourceName, Text, Metadata, Seq, IngestedAt
	err = g.AddStruct(reflect.TypeFor[core.Document](),
		structops.WithField(),
		structops.WithField(),
		structops.WithField(),
		structops.WithField(),
		structops.WithField(),
		structops.WithField(micros))
	if err != nil {
		panic(err)
	}

	// ChunkID, DocumentID, SourceName, Sequence, Text, Start, End, Vector, Order
	err = g.AddStruct(reflect.TypeFor[core.IndexedEntry](),
		structops.WithField(),
		structops.WithField(),
		structops.WithField(),
		structops.WithField(),
		structops.WithField(),
		structops.WithField(),
		structops.WithField(),
		structops.WithField(),
		structops.WithField())
	if err != nil {
		panic(err)
	}

	// Dimension, UpdatedAt
	err = g.AddStruct(reflect.TypeFor[core.IndexMeta](),
		structops.WithField(),
		structops.WithField(micros))
	if err != nil {
		panic(err)
	}

	bs, err := g.Generate()
	if err != nil {
		panic(err)
	}

	if err := os.WriteFile("./core/records_mus.gen.go", bs, 0644); err != nil {
		panic(err)
	}
}
