package htlc

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/hashbridge/swapd/ledger"
)

// The two HTLC contracts are hand-assembled EVM, not compiled Solidity:
// the programs are small enough (a couple hundred bytes) that assembling
// them directly keeps the on-chain code fully auditable opcode by opcode
// and removes any build-time compiler dependency. Each swap's parameters
// (secret hash, expiry, redeem/refund addresses, and for ERC-20 the token
// and amount) are embedded as PUSH constants, so the init code — and with
// it the deployed contract address — is fully determined by the
// parameters. The runtime semantics are exercised against a real EVM in
// ethereum_htlc_vm_test.go, including the preimage-length and zero-secret
// boundary cases.

// The EVM opcodes the assembler below emits.
const (
	opStop         = 0x00
	opLt           = 0x10
	opEq           = 0x14
	opAnd          = 0x16
	opCalldatasize = 0x36
	opCalldatacopy = 0x37
	opCodecopy     = 0x39
	opTimestamp    = 0x42
	opMload        = 0x51
	opMstore       = 0x52
	opJump         = 0x56
	opJumpi        = 0x57
	opGas          = 0x5a
	opJumpdest     = 0x5b
	opPush1        = 0x60
	opDup1         = 0x80
	opLog1         = 0xa1
	opCall         = 0xf1
	opReturn       = 0xf3
	opStaticcall   = 0xfa
	opRevert       = 0xfd
	opSelfdestruct = 0xff
)

// program is a minimal EVM assembler: raw opcode emission, sized PUSHes,
// and two-byte label references patched once the layout is final.
type program struct {
	code   []byte
	labels map[string]uint16
	refs   []labelRef
}

type labelRef struct {
	name   string
	offset int
}

func newProgram() *program {
	return &program{labels: make(map[string]uint16)}
}

func (p *program) op(codes ...byte) {
	p.code = append(p.code, codes...)
}

// push emits the smallest PUSH instruction able to carry data.
func (p *program) push(data []byte) {
	if len(data) == 0 || len(data) > 32 {
		panic(fmt.Sprintf("htlc: push of %d bytes", len(data)))
	}
	p.code = append(p.code, opPush1+byte(len(data)-1))
	p.code = append(p.code, data...)
}

func (p *program) pushByte(v byte) {
	p.push([]byte{v})
}

// label defines name at the current offset and emits its JUMPDEST.
func (p *program) label(name string) {
	p.labels[name] = uint16(len(p.code))
	p.op(opJumpdest)
}

// pushLabel emits a PUSH2 whose operand is patched to name's offset by
// assemble.
func (p *program) pushLabel(name string) {
	p.code = append(p.code, opPush1+1)
	p.refs = append(p.refs, labelRef{name: name, offset: len(p.code)})
	p.code = append(p.code, 0, 0)
}

func (p *program) assemble() []byte {
	for _, ref := range p.refs {
		target, ok := p.labels[ref.name]
		if !ok {
			panic("htlc: undefined label " + ref.name)
		}
		binary.BigEndian.PutUint16(p.code[ref.offset:], target)
	}
	return p.code
}

// etherHTLCRuntime assembles the ether HTLC of spec §4.2: a 32-byte call
// whose SHA-256 equals the embedded secret hash pays the whole balance to
// the redeem address and emits Redeemed(secret); any other call resolves
// through the expiry clause, paying the refund address once
// block.timestamp has reached the expiry and reverting before it.
func etherHTLCRuntime(p EthereumParams) []byte {
	prog := newProgram()

	// Exactly 32 bytes of calldata is a redemption attempt.
	prog.pushByte(32)
	prog.op(opCalldatasize, opEq)
	prog.pushLabel("redeem_check")
	prog.op(opJumpi)

	prog.label("check_expiry")
	prog.push(expiryBytes(p.Expiry))
	prog.op(opTimestamp, opLt)
	prog.pushLabel("revert")
	prog.op(opJumpi)

	// Refund: emit Refunded() and move the whole balance.
	prog.push(RefundedTopic.Bytes())
	prog.pushByte(0)
	prog.pushByte(0)
	prog.op(opLog1)
	prog.push(p.RefundAddress.Bytes())
	prog.op(opSelfdestruct)

	prog.label("revert")
	prog.pushByte(0)
	prog.pushByte(0)
	prog.op(opRevert)

	// Hash the candidate preimage with the SHA-256 precompile (address
	// 0x02), writing the digest to mem[32:64], and compare it against
	// the embedded secret hash.
	prog.label("redeem_check")
	prog.pushByte(32)
	prog.pushByte(0)
	prog.pushByte(0)
	prog.op(opCalldatacopy)
	prog.pushByte(32) // return size
	prog.pushByte(32) // return offset
	prog.pushByte(32) // args size
	prog.pushByte(0)  // args offset
	prog.pushByte(2)  // SHA-256 precompile
	prog.op(opGas, opStaticcall)
	prog.pushByte(32)
	prog.op(opMload)
	prog.push(p.SecretHash[:])
	prog.op(opEq, opAnd)
	prog.pushLabel("redeem")
	prog.op(opJumpi)

	// Wrong preimage: resolve through the expiry clause like any other
	// non-redeeming call.
	prog.pushLabel("check_expiry")
	prog.op(opJump)

	// Redeem: emit Redeemed(secret) — the preimage still sits at
	// mem[0:32] — and move the whole balance.
	prog.label("redeem")
	prog.push(RedeemedTopic.Bytes())
	prog.pushByte(32)
	prog.pushByte(0)
	prog.op(opLog1)
	prog.push(p.RedeemAddress.Bytes())
	prog.op(opSelfdestruct)

	return prog.assemble()
}

// erc20HTLCRuntime assembles the ERC-20 HTLC: the clause structure of the
// ether contract, but each resolution calls token.transfer(recipient,
// amount) instead of moving ether.
func erc20HTLCRuntime(token common.Address, amount ledger.Erc20Amount, p EthereumParams) []byte {
	prog := newProgram()

	prog.pushByte(32)
	prog.op(opCalldatasize, opEq)
	prog.pushLabel("redeem_check")
	prog.op(opJumpi)

	prog.label("check_expiry")
	prog.push(expiryBytes(p.Expiry))
	prog.op(opTimestamp, opLt)
	prog.pushLabel("revert")
	prog.op(opJumpi)

	prog.push(RefundedTopic.Bytes())
	prog.pushByte(0)
	prog.pushByte(0)
	prog.op(opLog1)
	emitTokenTransfer(prog, token, amount, p.RefundAddress, "refund_done")

	prog.label("revert")
	prog.pushByte(0)
	prog.pushByte(0)
	prog.op(opRevert)

	prog.label("redeem_check")
	prog.pushByte(32)
	prog.pushByte(0)
	prog.pushByte(0)
	prog.op(opCalldatacopy)
	prog.pushByte(32)
	prog.pushByte(32)
	prog.pushByte(32)
	prog.pushByte(0)
	prog.pushByte(2)
	prog.op(opGas, opStaticcall)
	prog.pushByte(32)
	prog.op(opMload)
	prog.push(p.SecretHash[:])
	prog.op(opEq, opAnd)
	prog.pushLabel("redeem")
	prog.op(opJumpi)
	prog.pushLabel("check_expiry")
	prog.op(opJump)

	prog.label("redeem")
	prog.push(RedeemedTopic.Bytes())
	prog.pushByte(32)
	prog.pushByte(0)
	prog.op(opLog1)
	emitTokenTransfer(prog, token, amount, p.RedeemAddress, "redeem_done")

	return prog.assemble()
}

// emitTokenTransfer appends a token.transfer(to, amount) call and stops.
// The calldata is built at mem[0x40:0x84] (selector, padded address,
// amount), leaving the preimage at mem[0:32] untouched. A failed call
// reverts the whole resolution, so a resolution either fully happens or
// remains attemptable.
func emitTokenTransfer(prog *program, token common.Address, amount ledger.Erc20Amount, to common.Address, doneLabel string) {
	prog.push(transferSelectorWord())
	prog.pushByte(0x40)
	prog.op(opMstore)
	prog.push(to.Bytes())
	prog.pushByte(0x44)
	prog.op(opMstore)
	prog.push(amount.Units().FillBytes(make([]byte, 32)))
	prog.pushByte(0x64)
	prog.op(opMstore)

	prog.pushByte(0)    // return size
	prog.pushByte(0)    // return offset
	prog.pushByte(0x44) // args size: selector plus two words
	prog.pushByte(0x40) // args offset
	prog.pushByte(0)    // value
	prog.push(token.Bytes())
	prog.op(opGas, opCall)
	prog.pushLabel(doneLabel)
	prog.op(opJumpi)
	prog.pushByte(0)
	prog.pushByte(0)
	prog.op(opRevert)
	prog.label(doneLabel)
	prog.op(opStop)
}

// deployHeaderSize is the fixed length of the deployment header below.
const deployHeaderSize = 13

// deployInitCode wraps runtime code in the standard deployment header:
// copy the runtime into memory and return it as the contract's code.
func deployInitCode(runtimeCode []byte) []byte {
	var length, offset [2]byte
	binary.BigEndian.PutUint16(length[:], uint16(len(runtimeCode)))
	binary.BigEndian.PutUint16(offset[:], deployHeaderSize)

	prog := newProgram()
	prog.push(length[:])
	prog.op(opDup1)
	prog.push(offset[:])
	prog.pushByte(0)
	prog.op(opCodecopy)
	prog.pushByte(0)
	prog.op(opReturn)

	header := prog.assemble()
	if len(header) != deployHeaderSize {
		panic(fmt.Sprintf("htlc: deploy header is %d bytes, want %d",
			len(header), deployHeaderSize))
	}
	return append(header, runtimeCode...)
}

// transferSelectorWord is the transfer(address,uint256) selector,
// left-aligned in a 32-byte word for a single MSTORE.
func transferSelectorWord() []byte {
	word := make([]byte, 32)
	copy(word, crypto.Keccak256([]byte("transfer(address,uint256)"))[:4])
	return word
}

// expiryBytes renders the expiry as the 4-byte big-endian constant the
// runtime compares TIMESTAMP against.
func expiryBytes(t ledger.Timestamp) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(t))
	return b[:]
}
