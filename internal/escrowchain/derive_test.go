package escrowchain

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var testDeriver = Deriver{
	Program:      common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0"),
	InitCodeHash: common.HexToHash("0x41c64ef7bbbd1a8d91f6b7e2f3a85bd08a978c7e23b7b6ff542388b3a57cb0b1"),
}

func TestEscrowAddressDeterministic(t *testing.T) {
	sender := common.HexToAddress("0x1111111111111111111111111111111111111111")
	recipient := common.HexToAddress("0x2222222222222222222222222222222222222222")

	first, err := testDeriver.EscrowAddress(sender, recipient, "mlzx")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := testDeriver.EscrowAddress(sender, recipient, "mlzx")
		if err != nil {
			t.Fatalf("derive: %v", err)
		}
		if again != first {
			t.Fatalf("derivation is not deterministic: %s vs %s", first.Hex(), again.Hex())
		}
	}
}

func TestEscrowAddressMatchesAcrossLifecycle(t *testing.T) {
	// The create path and the settle path go through the same function
	// with the same stored triple; mixed-case hex input must not change
	// the result because addresses are compared as 20 bytes.
	createSender := common.HexToAddress("0xAbCdEF0123456789abcdef0123456789ABCDEF01")
	settleSender := common.HexToAddress("0xabcdef0123456789abcdef0123456789abcdef01")
	recipient := common.HexToAddress("0x2222222222222222222222222222222222222222")

	atCreate, err := testDeriver.EscrowAddress(createSender, recipient, "m1a2")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	atSettle, err := testDeriver.EscrowAddress(settleSender, recipient, "m1a2")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if atCreate != atSettle {
		t.Fatalf("settle path derived %s, create path derived %s", atSettle.Hex(), atCreate.Hex())
	}
}

func TestEscrowAddressVariesWithInputs(t *testing.T) {
	a := common.HexToAddress("0x1111111111111111111111111111111111111111")
	b := common.HexToAddress("0x2222222222222222222222222222222222222222")

	base, _ := testDeriver.EscrowAddress(a, b, "mlzx")

	otherSeed, _ := testDeriver.EscrowAddress(a, b, "mlzy")
	if otherSeed == base {
		t.Fatal("different seed produced the same address")
	}

	swapped, _ := testDeriver.EscrowAddress(b, a, "mlzx")
	if swapped == base {
		t.Fatal("swapped roles produced the same address")
	}

	otherProgram := Deriver{
		Program:      common.HexToAddress("0x000000000000000000000000000000000000dEaD"),
		InitCodeHash: testDeriver.InitCodeHash,
	}
	elsewhere, _ := otherProgram.EscrowAddress(a, b, "mlzx")
	if elsewhere == base {
		t.Fatal("different program produced the same address")
	}
}

func TestEscrowAddressRejectsBadSeed(t *testing.T) {
	a := common.HexToAddress("0x1111111111111111111111111111111111111111")
	b := common.HexToAddress("0x2222222222222222222222222222222222222222")

	for _, seed := range []string{"", "m", "m12", "m1234"} {
		if _, err := testDeriver.EscrowAddress(a, b, seed); err == nil {
			t.Errorf("seed %q accepted", seed)
		}
	}
}
