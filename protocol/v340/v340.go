// Package v340 registers the protocol-340 (Minecraft 1.12.2) packet schemas
// this proxy needs: the handshake/login packets the wire-level invariants
// depend on, plus JoinGame and the tab-complete pair the player-list poller
// rides on.
package v340

import (
	"github.com/exserverd/mcmitm/protocol"
	"github.com/exserverd/mcmitm/wire"
)

// Protocol is the protocol version number these schemas are registered
// under.
const Protocol int32 = 340

// Packet ids, grouped by state, matching the field tables below.
const (
	IDHandshake = 0x00

	IDEncryptionRequestOrResponse = 0x01
	IDLoginSuccess                = 0x02
	IDSetCompression              = 0x03

	IDTabCompleteRequest  = 0x01
	IDTabCompleteResponse = 0x0e
	IDJoinGame            = 0x23
)

// Register installs every protocol-340 schema this proxy uses into reg.
// Called once at startup; a duplicate call (or an overlapping registration
// elsewhere) panics via Registry.Register.
func Register(reg *protocol.Registry) {
	reg.Register(protocol.FQID{Protocol: Protocol, Side: protocol.Serverbound, State: protocol.StateHandshake, ID: IDHandshake}, handshakeSchema{})

	reg.Register(protocol.FQID{Protocol: Protocol, Side: protocol.Clientbound, State: protocol.StateLogin, ID: IDEncryptionRequestOrResponse}, encryptionRequestSchema{})
	reg.Register(protocol.FQID{Protocol: Protocol, Side: protocol.Serverbound, State: protocol.StateLogin, ID: IDEncryptionRequestOrResponse}, encryptionResponseSchema{})
	reg.Register(protocol.FQID{Protocol: Protocol, Side: protocol.Clientbound, State: protocol.StateLogin, ID: IDLoginSuccess}, loginSuccessSchema{})
	reg.Register(protocol.FQID{Protocol: Protocol, Side: protocol.Clientbound, State: protocol.StateLogin, ID: IDSetCompression}, setCompressionSchema{})

	reg.Register(protocol.FQID{Protocol: Protocol, Side: protocol.Serverbound, State: protocol.StatePlay, ID: IDTabCompleteRequest}, tabCompleteRequestSchema{})
	reg.Register(protocol.FQID{Protocol: Protocol, Side: protocol.Clientbound, State: protocol.StatePlay, ID: IDTabCompleteResponse}, tabCompleteResponseSchema{})
	reg.Register(protocol.FQID{Protocol: Protocol, Side: protocol.Clientbound, State: protocol.StatePlay, ID: IDJoinGame}, joinGameSchema{})
}

type handshakeSchema struct{}

func (handshakeSchema) Decode(r wire.Reader) (map[string]any, error) {
	protocolVersion, err := wire.ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	serverAddress, err := wire.ReadString(r)
	if err != nil {
		return nil, err
	}
	serverPort, err := wire.ReadUShort(r)
	if err != nil {
		return nil, err
	}
	nextState, err := wire.ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"protocol_version": protocolVersion,
		"server_address":   serverAddress,
		"server_port":      serverPort,
		"next_state":       nextState,
	}, nil
}

func (handshakeSchema) Encode(w wire.Writer, f map[string]any) error {
	if err := wire.WriteVarInt(w, f["protocol_version"].(int32)); err != nil {
		return err
	}
	if err := wire.WriteString(w, f["server_address"].(string)); err != nil {
		return err
	}
	if err := wire.WriteUShort(w, f["server_port"].(uint16)); err != nil {
		return err
	}
	return wire.WriteVarInt(w, f["next_state"].(int32))
}

type encryptionRequestSchema struct{}

func (encryptionRequestSchema) Decode(r wire.Reader) (map[string]any, error) {
	serverID, err := wire.ReadString(r)
	if err != nil {
		return nil, err
	}
	publicKey, err := wire.ReadBytes(r)
	if err != nil {
		return nil, err
	}
	verifyToken, err := wire.ReadBytes(r)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"server_id":    serverID,
		"public_key":   publicKey,
		"verify_token": verifyToken,
	}, nil
}

func (encryptionRequestSchema) Encode(w wire.Writer, f map[string]any) error {
	if err := wire.WriteString(w, f["server_id"].(string)); err != nil {
		return err
	}
	if err := wire.WriteBytes(w, f["public_key"].([]byte)); err != nil {
		return err
	}
	return wire.WriteBytes(w, f["verify_token"].([]byte))
}

type encryptionResponseSchema struct{}

func (encryptionResponseSchema) Decode(r wire.Reader) (map[string]any, error) {
	sharedSecret, err := wire.ReadBytes(r)
	if err != nil {
		return nil, err
	}
	verifyToken, err := wire.ReadBytes(r)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"shared_secret": sharedSecret,
		"verify_token":  verifyToken,
	}, nil
}

func (encryptionResponseSchema) Encode(w wire.Writer, f map[string]any) error {
	if err := wire.WriteBytes(w, f["shared_secret"].([]byte)); err != nil {
		return err
	}
	return wire.WriteBytes(w, f["verify_token"].([]byte))
}

type loginSuccessSchema struct{}

func (loginSuccessSchema) Decode(r wire.Reader) (map[string]any, error) {
	uid, err := wire.ReadString(r)
	if err != nil {
		return nil, err
	}
	username, err := wire.ReadString(r)
	if err != nil {
		return nil, err
	}
	return map[string]any{"uuid": uid, "username": username}, nil
}

func (loginSuccessSchema) Encode(w wire.Writer, f map[string]any) error {
	if err := wire.WriteString(w, f["uuid"].(string)); err != nil {
		return err
	}
	return wire.WriteString(w, f["username"].(string))
}

type setCompressionSchema struct{}

func (setCompressionSchema) Decode(r wire.Reader) (map[string]any, error) {
	threshold, err := wire.ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	return map[string]any{"threshold": threshold}, nil
}

func (setCompressionSchema) Encode(w wire.Writer, f map[string]any) error {
	return wire.WriteVarInt(w, f["threshold"].(int32))
}

type tabCompleteRequestSchema struct{}

func (tabCompleteRequestSchema) Decode(r wire.Reader) (map[string]any, error) {
	text, err := wire.ReadString(r)
	if err != nil {
		return nil, err
	}
	assumeCommand, err := wire.ReadBool(r)
	if err != nil {
		return nil, err
	}
	optionalPosition, err := wire.ReadOption(r, wire.ReadUInt64)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"text":              text,
		"assume_command":    assumeCommand,
		"optional_position": optionalPosition,
	}, nil
}

func (tabCompleteRequestSchema) Encode(w wire.Writer, f map[string]any) error {
	if err := wire.WriteString(w, f["text"].(string)); err != nil {
		return err
	}
	if err := wire.WriteBool(w, f["assume_command"].(bool)); err != nil {
		return err
	}
	return wire.WriteOption(w, f["optional_position"].(*uint64), wire.WriteUInt64)
}

type tabCompleteResponseSchema struct{}

func (tabCompleteResponseSchema) Decode(r wire.Reader) (map[string]any, error) {
	matches, err := wire.ReadArray(r, wire.ReadString)
	if err != nil {
		return nil, err
	}
	return map[string]any{"matches": matches}, nil
}

func (tabCompleteResponseSchema) Encode(w wire.Writer, f map[string]any) error {
	return wire.WriteArray(w, f["matches"].([]string), wire.WriteString)
}

type joinGameSchema struct{}

func (joinGameSchema) Decode(r wire.Reader) (map[string]any, error) {
	entityID, err := wire.ReadInt32(r)
	if err != nil {
		return nil, err
	}
	gamemode, err := wire.ReadUByte(r)
	if err != nil {
		return nil, err
	}
	dimension, err := wire.ReadInt32(r)
	if err != nil {
		return nil, err
	}
	difficulty, err := wire.ReadUByte(r)
	if err != nil {
		return nil, err
	}
	maxPlayers, err := wire.ReadUByte(r)
	if err != nil {
		return nil, err
	}
	levelType, err := wire.ReadString(r)
	if err != nil {
		return nil, err
	}
	reducedDebugInfo, err := wire.ReadBool(r)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"entity_id":          entityID,
		"gamemode":           gamemode,
		"dimension":          dimension,
		"difficulty":         difficulty,
		"max_players":        maxPlayers,
		"level_type":         levelType,
		"reduced_debug_info": reducedDebugInfo,
	}, nil
}

func (joinGameSchema) Encode(w wire.Writer, f map[string]any) error {
	if err := wire.WriteInt32(w, f["entity_id"].(int32)); err != nil {
		return err
	}
	if err := wire.WriteUByte(w, f["gamemode"].(uint8)); err != nil {
		return err
	}
	if err := wire.WriteInt32(w, f["dimension"].(int32)); err != nil {
		return err
	}
	if err := wire.WriteUByte(w, f["difficulty"].(uint8)); err != nil {
		return err
	}
	if err := wire.WriteUByte(w, f["max_players"].(uint8)); err != nil {
		return err
	}
	if err := wire.WriteString(w, f["level_type"].(string)); err != nil {
		return err
	}
	return wire.WriteBool(w, f["reduced_debug_info"].(bool))
}
