package application

import "fmt"

// Mode はルームのゲームモードです。ゲーム開始時に Ruleset に解決され、試合中は変わりません。
type Mode uint8

const (
	ModeClassic Mode = iota
	ModeFastPaced
	ModeInvisible
	ModeMorph
	modeCount
)

var modeNames = [modeCount]string{
	ModeClassic:   "classic",
	ModeFastPaced: "fast-paced",
	ModeInvisible: "invisible-falling-pieces",
	ModeMorph:     "morph-falling-pieces",
}

// ParseMode はモード名を解決します。未知の名前は ErrInvalidMode です。
func ParseMode(name string) (Mode, error) {
	for i, n := range modeNames {
		if n == name {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMode, name)
}

func (m Mode) String() string {
	if m >= modeCount {
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
	return modeNames[m]
}

func (m Mode) MarshalText() ([]byte, error) {
	if m >= modeCount {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, uint8(m))
	}
	return []byte(modeNames[m]), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	mode, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// Ruleset はモードごとの盤面パラメータです。
type Ruleset struct {
	Mode Mode
	// GravityMultiplier は1tickあたりに溜まる重力量
	GravityMultiplier int
	// HiddenWhileFalling は落下中のピースを配信しない
	HiddenWhileFalling bool
	// Morphing は重力で1段落ちるごとに形状を振り直す
	Morphing bool
}

// Ruleset はモードに対応するルールを返します。
func (m Mode) Ruleset() Ruleset {
	r := Ruleset{Mode: m, GravityMultiplier: 1}
	switch m {
	case ModeFastPaced:
		r.GravityMultiplier = 2
	case ModeInvisible:
		r.HiddenWhileFalling = true
	case ModeMorph:
		r.Morphing = true
	}
	return r
}
