// Package contracts holds the ABI definitions for the deployed escrow
// program. The Solidity sources live in the contracts repository; only
// the interface is vendored here.
package contracts

// MessageEscrowABI covers the three instructions the service submits.
// Escrow accounts are counterfactual CREATE2 children of the program,
// so every call carries the derived account address explicitly.
const MessageEscrowABI = `[
  {
    "type": "function",
    "name": "createMessagePayment",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "escrowAccount", "type": "address"},
      {"name": "sender", "type": "address"},
      {"name": "recipient", "type": "address"},
      {"name": "amount", "type": "uint256"},
      {"name": "messageId", "type": "bytes32"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "approveMessagePayment",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "escrowAccount", "type": "address"},
      {"name": "sender", "type": "address"},
      {"name": "recipient", "type": "address"},
      {"name": "messageId", "type": "bytes32"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "rejectMessagePayment",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "escrowAccount", "type": "address"},
      {"name": "sender", "type": "address"},
      {"name": "recipient", "type": "address"},
      {"name": "messageId", "type": "bytes32"}
    ],
    "outputs": []
  },
  {
    "type": "event",
    "name": "PaymentCreated",
    "inputs": [
      {"name": "escrowAccount", "type": "address", "indexed": true},
      {"name": "sender", "type": "address", "indexed": true},
      {"name": "recipient", "type": "address", "indexed": true},
      {"name": "amount", "type": "uint256", "indexed": false},
      {"name": "messageId", "type": "bytes32", "indexed": false}
    ],
    "anonymous": false
  },
  {
    "type": "event",
    "name": "PaymentSettled",
    "inputs": [
      {"name": "escrowAccount", "type": "address", "indexed": true},
      {"name": "approved", "type": "bool", "indexed": false},
      {"name": "messageId", "type": "bytes32", "indexed": false}
    ],
    "anonymous": false
  }
]`
