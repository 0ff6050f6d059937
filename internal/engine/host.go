package engine

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/Checker-Finance/settlement/internal/ledger"
)

type worldHost struct {
	*ledger.World
}

// WorldHost adapts an emulated ledger world to Host.
func WorldHost(w *ledger.World) Host {
	return worldHost{World: w}
}

func (h worldHost) Token(addr common.Address) (Token, error) {
	t, err := h.World.Token(addr)
	if err != nil {
		return nil, err
	}
	return t, nil
}
