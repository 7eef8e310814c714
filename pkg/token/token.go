package token

type Type int

const (
	EOF Type = iota
	MoveRight
	MoveLeft
	Inc
	Dec
	LoopOpen
	LoopClose
	Output
	Input
)

// CharMap maps every recognized instruction character to its token type.
// Any rune missing from the map is a comment.
var CharMap = map[rune]Type{
	'>': MoveRight,
	'<': MoveLeft,
	'+': Inc,
	'-': Dec,
	'[': LoopOpen,
	']': LoopClose,
	'.': Output,
	',': Input,
}

// Reverse mapping from Type to the instruction character
var TypeChars = make(map[Type]rune)

func init() {
	for ch, typ := range CharMap {
		TypeChars[typ] = ch
	}
}

func (t Type) String() string {
	if t == EOF {
		return "EOF"
	}
	if ch, ok := TypeChars[t]; ok {
		return string(ch)
	}
	return "?"
}

type Token struct {
	Type      Type
	FileIndex int
	Offset    int
	Line      int
	Column    int
}
