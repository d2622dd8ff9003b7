package model

// Block is a named partition of proposal fields that reviewers approve as a
// unit.
type Block string

const (
	BlockEvent     Block = "event"
	BlockEdition   Block = "edition"
	BlockOrganizer Block = "organizer"
	BlockRaces     Block = "races"
)

// AllBlocks lists every block in display order.
var AllBlocks = []Block{BlockEvent, BlockEdition, BlockOrganizer, BlockRaces}

// blockByField is the fixed field-to-block membership table. A field belongs
// to exactly one block.
var blockByField = map[string]Block{
	// event
	"name":            BlockEvent,
	"description":     BlockEvent,
	"websiteUrl":      BlockEvent,
	"facebookUrl":     BlockEvent,
	"instagramUrl":    BlockEvent,
	"city":            BlockEvent,
	"countryCode":     BlockEvent,
	"subdivisionName": BlockEvent,
	"address":         BlockEvent,

	// edition
	"year":            BlockEdition,
	"startDate":       BlockEdition,
	"endDate":         BlockEdition,
	"registrationUrl": BlockEdition,
	"timezone":        BlockEdition,

	// organizer
	"organizerName":    BlockOrganizer,
	"organizerEmail":   BlockOrganizer,
	"organizerPhone":   BlockOrganizer,
	"organizerWebsite": BlockOrganizer,

	// races (the sub-tree itself; individual race fields are not block-mapped)
	"races":         BlockRaces,
	"racesToAdd":    BlockRaces,
	"racesToUpdate": BlockRaces,
	"racesToDelete": BlockRaces,
}

// BlockForField resolves the owning block for a proposal field. The second
// return is false for fields outside the membership table.
func BlockForField(field string) (Block, bool) {
	b, ok := blockByField[field]
	return b, ok
}

// BlockApproved resolves the per-block approval gate. An empty or nil map
// approves every block; a non-empty map approves only blocks explicitly set
// to true.
func BlockApproved(approved map[string]bool, b Block) bool {
	if len(approved) == 0 {
		return true
	}
	return approved[string(b)]
}
