// Package pkmitm implements the public-key MITM: it intercepts the
// EncryptionRequest/EncryptionResponse exchange, substituting a forged RSA
// keypair for the real server's so that this proxy learns both the
// client's and the server's AES shared secrets, and computes the signed-hex
// session digest the HTTP join-patcher needs. This is the Go rendering of
// exserverd/pk_mitm.py's PKMitm.
package pkmitm

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"fmt"
	"log"
	"math/big"
	"sync"

	"github.com/exserverd/mcmitm/eventbus"
	"github.com/exserverd/mcmitm/internal/logredact"
	"github.com/exserverd/mcmitm/joinhash"
	"github.com/exserverd/mcmitm/mitm"
	"github.com/exserverd/mcmitm/protocol"
	"github.com/exserverd/mcmitm/protocol/v340"
)

// keyBits is the forged keypair's modulus size. 1024 bits matches the
// source implementation; using a fixed, small, well-known key size is what
// would make this MITM detectable to a server operator who checks for it,
// and deliberately not disguising that is a stated non-goal, not a bug.
const keyBits = 1024

var (
	forgedKeyOnce sync.Once
	forgedKey     *rsa.PrivateKey
	forgedKeyDER  []byte
)

// forgedKeypair lazily generates the process-global forged RSA keypair
// exactly once, regardless of how many connections are being MITMed
// concurrently — the Go rendering of PKMitm's class-level
// `private_key = RSA.generate(1024)`.
func forgedKeypair() (*rsa.PrivateKey, []byte) {
	forgedKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, keyBits)
		if err != nil {
			panic(fmt.Sprintf("pkmitm: generate forged keypair: %v", err))
		}
		der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
		if err != nil {
			panic(fmt.Sprintf("pkmitm: marshal forged public key: %v", err))
		}
		forgedKey = key
		forgedKeyDER = der
	})
	return forgedKey, forgedKeyDER
}

// Attach wires the public-key MITM's pre/post listeners onto core's event
// bus. hashSlot receives the synthesized join digest for the HTTP
// join-patcher running on this connection's companion HTTP connection to
// pick up.
func Attach(core *mitm.Core, hashSlot *joinhash.Slot, logger *log.Logger) {
	encryptionRequestFQID := protocol.FQID{Protocol: v340.Protocol, Side: protocol.Clientbound, State: protocol.StateLogin, ID: v340.IDEncryptionRequestOrResponse}
	encryptionResponseFQID := protocol.FQID{Protocol: v340.Protocol, Side: protocol.Serverbound, State: protocol.StateLogin, ID: v340.IDEncryptionRequestOrResponse}

	state := &pkState{logger: logger, hashSlot: hashSlot}

	core.Bus.AddListener(eventbus.Key{Phase: eventbus.Pre, FQID: encryptionRequestFQID}, state.onEncryptionRequest)
	core.Bus.AddListener(eventbus.Key{Phase: eventbus.Pre, FQID: encryptionResponseFQID}, state.preEncryptionResponse)
	core.Bus.AddListener(eventbus.Key{Phase: eventbus.Post, FQID: encryptionResponseFQID}, func(pkt *protocol.Packet) {
		state.postEncryptionResponse(pkt, core)
	})
}

// pkState holds the per-connection secrets accumulated across the three
// listeners above; it exists because, unlike the stateless wire codecs,
// this MITM must remember values computed in one callback for use in the
// next.
type pkState struct {
	logger   *log.Logger
	hashSlot *joinhash.Slot

	mitmToSrvKey            []byte
	sharedSecretReplacement []byte
	verifyTokenReplacement  []byte
	cliToMITMKey            []byte
}

// onEncryptionRequest runs as the EncryptionRequest packet is about to be
// forwarded to the client. It decodes the real server's DER public key,
// generates a fresh shared secret for the mitm→server leg, re-encrypts that
// secret and the verify token under the real server key (to hand to the
// server later, in EncryptionResponse), computes the session join digest,
// and replaces the packet's public key with the forged one so the client
// encrypts its shared secret under a key this proxy holds the private half
// of.
func (s *pkState) onEncryptionRequest(pkt *protocol.Packet) {
	serverID := pkt.Fields["server_id"].(string)
	serverPubDER := pkt.Fields["public_key"].([]byte)
	verifyToken := pkt.Fields["verify_token"].([]byte)

	serverPub, err := x509.ParsePKIXPublicKey(serverPubDER)
	if err != nil {
		s.logger.Printf("pkmitm: parse server public key: %v", err)
		return
	}
	rsaServerPub, ok := serverPub.(*rsa.PublicKey)
	if !ok {
		s.logger.Printf("pkmitm: server public key is not RSA")
		return
	}

	mitmToSrvKey := make([]byte, 16)
	if _, err := rand.Read(mitmToSrvKey); err != nil {
		s.logger.Printf("pkmitm: generate shared secret: %v", err)
		return
	}

	sharedSecretRepl, err := rsa.EncryptPKCS1v15(rand.Reader, rsaServerPub, mitmToSrvKey)
	if err != nil {
		s.logger.Printf("pkmitm: encrypt shared secret replacement: %v", err)
		return
	}
	verifyTokenRepl, err := rsa.EncryptPKCS1v15(rand.Reader, rsaServerPub, verifyToken)
	if err != nil {
		s.logger.Printf("pkmitm: encrypt verify token replacement: %v", err)
		return
	}

	digest := sessionDigest(serverID, mitmToSrvKey, serverPubDER)
	s.hashSlot.Set(digest)

	s.mitmToSrvKey = mitmToSrvKey
	s.sharedSecretReplacement = sharedSecretRepl
	s.verifyTokenReplacement = verifyTokenRepl

	_, forgedDER := forgedKeypair()
	pkt.Fields["public_key"] = forgedDER
	s.logger.Printf("pkmitm: patched encryption request, mitm->server key=%s", logredact.Value(mitmToSrvKey))
}

// preEncryptionResponse runs as the client's EncryptionResponse is about to
// be forwarded to the server. It decrypts the client's shared secret under
// the forged private key (learning the client↔mitm AES key) and replaces
// the packet's shared secret and verify token with the ones already
// encrypted under the real server key in onEncryptionRequest.
func (s *pkState) preEncryptionResponse(pkt *protocol.Packet) {
	forgedPriv, _ := forgedKeypair()
	sharedSecret := pkt.Fields["shared_secret"].([]byte)

	cliKey, err := rsa.DecryptPKCS1v15(rand.Reader, forgedPriv, sharedSecret)
	if err != nil {
		s.logger.Printf("pkmitm: decrypt client shared secret: %v", err)
		return
	}
	s.cliToMITMKey = cliKey
	s.logger.Printf("pkmitm: decrypted client key=%s", logredact.Value(cliKey))

	pkt.Fields["shared_secret"] = s.sharedSecretReplacement
	pkt.Fields["verify_token"] = s.verifyTokenReplacement
}

// postEncryptionResponse runs once the (patched) EncryptionResponse has
// reached the server: both legs now have their AES keys established, so
// encryption is armed on both framed streams.
func (s *pkState) postEncryptionResponse(pkt *protocol.Packet, core *mitm.Core) {
	if err := core.CliToMITM.EnableEncryption(s.cliToMITMKey); err != nil {
		s.logger.Printf("pkmitm: arm client encryption: %v", err)
		return
	}
	if err := core.MITMToSrv.EnableEncryption(s.mitmToSrvKey); err != nil {
		s.logger.Printf("pkmitm: arm server encryption: %v", err)
		return
	}
	s.logger.Printf("pkmitm: encryption armed on both legs")
}

// sessionDigest computes the Mojang-style session hash: SHA-1(serverID ||
// sharedSecret || serverPublicKeyDER), reinterpreted as a big-endian
// two's-complement signed integer and formatted as lowercase hex with a
// leading '-' for negative values. This nonstandard encoding (not plain
// unsigned hex) is exactly what the real auth service expects and must not
// be "corrected."
func sessionDigest(serverID string, sharedSecret, serverPubDER []byte) string {
	h := sha1.New()
	h.Write([]byte(serverID))
	h.Write(sharedSecret)
	h.Write(serverPubDER)
	sum := h.Sum(nil)

	n := new(big.Int).SetBytes(sum)
	if sum[0]&0x80 != 0 {
		// Negative in two's complement: n - 2^160.
		modulus := new(big.Int).Lsh(big.NewInt(1), uint(len(sum)*8))
		n.Sub(n, modulus)
	}
	if n.Sign() < 0 {
		return "-" + new(big.Int).Neg(n).Text(16)
	}
	return n.Text(16)
}
