package application

import "fmt"

// Shape はテトロミノの7種類です。
type Shape uint8

const (
	ShapeI Shape = iota
	ShapeJ
	ShapeL
	ShapeO
	ShapeS
	ShapeT
	ShapeZ
	shapeCount
)

// AllShapes は1バッグ分の形状を定義順に並べたものです。
var AllShapes = [shapeCount]Shape{ShapeI, ShapeJ, ShapeL, ShapeO, ShapeS, ShapeT, ShapeZ}

var shapeNames = [shapeCount]string{"I", "J", "L", "O", "S", "T", "Z"}

var shapeColors = [shapeCount]string{"cyan", "blue", "orange", "yellow", "green", "purple", "red"}

func (s Shape) String() string {
	if s >= shapeCount {
		return fmt.Sprintf("Shape(%d)", uint8(s))
	}
	return shapeNames[s]
}

// Color は描画側に渡す色名です。
func (s Shape) Color() string {
	if s >= shapeCount {
		return ""
	}
	return shapeColors[s]
}

func (s Shape) MarshalText() ([]byte, error) {
	if s >= shapeCount {
		return nil, fmt.Errorf("unknown shape %d", uint8(s))
	}
	return []byte(shapeNames[s]), nil
}

func (s *Shape) UnmarshalText(b []byte) error {
	shape, ok := ParseShape(string(b))
	if !ok {
		return fmt.Errorf("unknown shape %q", string(b))
	}
	*s = shape
	return nil
}

func ParseShape(name string) (Shape, bool) {
	for i, n := range shapeNames {
		if n == name {
			return Shape(i), true
		}
	}
	return 0, false
}

// Point は盤面上の座標です。y は下向きに増えます。
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// 回転0の形状。boxSize 四方のボックス内の相対座標で表す
var baseCells = [shapeCount][4]Point{
	ShapeI: {{0, 1}, {1, 1}, {2, 1}, {3, 1}},
	ShapeJ: {{0, 0}, {0, 1}, {1, 1}, {2, 1}},
	ShapeL: {{2, 0}, {0, 1}, {1, 1}, {2, 1}},
	ShapeO: {{0, 0}, {1, 0}, {0, 1}, {1, 1}},
	ShapeS: {{1, 0}, {2, 0}, {0, 1}, {1, 1}},
	ShapeT: {{1, 0}, {0, 1}, {1, 1}, {2, 1}},
	ShapeZ: {{0, 0}, {1, 0}, {1, 1}, {2, 1}},
}

var boxSizes = [shapeCount]int{
	ShapeI: 4,
	ShapeO: 2,
	ShapeJ: 3, ShapeL: 3, ShapeS: 3, ShapeT: 3, ShapeZ: 3,
}

// rotationTable[shape][rotation] は回転済みのセル
var rotationTable [shapeCount][4][4]Point

func init() {
	for s := range shapeCount {
		n := boxSizes[s]
		cells := baseCells[s]
		for r := range 4 {
			rotationTable[s][r] = cells
			// 時計回り: (x, y) -> (n-1-y, x)
			for i, c := range cells {
				cells[i] = Point{X: n - 1 - c.Y, Y: c.X}
			}
		}
	}
}

// Piece は落下中のピースです。X, Y はボックス左上の盤面座標です。
type Piece struct {
	Shape    Shape
	Rotation int
	X, Y     int
}

// Cells はピースが占める盤面座標を返します。
func (p Piece) Cells() [4]Point {
	var out [4]Point
	for i, c := range rotationTable[p.Shape][p.Rotation&3] {
		out[i] = Point{X: p.X + c.X, Y: p.Y + c.Y}
	}
	return out
}

func (p Piece) Moved(dx, dy int) Piece {
	p.X += dx
	p.Y += dy
	return p
}

// Rotated は時計回りに1段階回転したピースを返します。壁蹴りは行いません。
func (p Piece) Rotated() Piece {
	p.Rotation = (p.Rotation + 1) & 3
	return p
}
