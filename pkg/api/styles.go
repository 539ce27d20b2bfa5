package api

// StyleID identifies one of the nine publication styles a paid session
// grants access to. Each style is a single-use permit: once a post has been
// generated in a style, that style is spent for the rest of the session.
type StyleID string

const (
	StylePersuasive     StyleID = "persuasive"
	StyleIronic         StyleID = "ironic"
	StyleConversational StyleID = "conversational"
	StyleProvocative    StyleID = "provocative"
	StyleInformational  StyleID = "informational"
	StyleFormal         StyleID = "formal"
	StyleStorytelling   StyleID = "storytelling"
	StyleSelling        StyleID = "selling"
	StyleMedical        StyleID = "medical"
)

// Styles is the fixed catalog, in display order.
var Styles = []StyleID{
	StylePersuasive,
	StyleIronic,
	StyleConversational,
	StyleProvocative,
	StyleInformational,
	StyleFormal,
	StyleStorytelling,
	StyleSelling,
	StyleMedical,
}

// ValidStyle reports whether id is one of the nine catalog styles.
func ValidStyle(id StyleID) bool {
	for _, s := range Styles {
		if s == id {
			return true
		}
	}
	return false
}
