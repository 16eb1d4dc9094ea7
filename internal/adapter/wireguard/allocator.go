// Package wireguard implements the VPN address allocator and peer
// configuration on top of a WireGuard server's shared config directory.
package wireguard

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/Strob0t/iotbridge/internal/atomicfile"
	"github.com/Strob0t/iotbridge/internal/config"
	"github.com/Strob0t/iotbridge/internal/domain"
	"github.com/Strob0t/iotbridge/internal/port/ipam"
)

const (
	peersFile       = "cdm_peers.json"
	serverKeyFile   = "server/publickey"
	serverConfFile  = "wg_confs/wg0.conf"
	keepaliveSecs   = 25
	privateKeyToken = "<REPLACE_WITH_DEVICE_PRIVATE_KEY>"
)

// PlaceholderServerKey is returned while the server has not generated its key pair.
const PlaceholderServerKey = "<SERVER_PUBLIC_KEY – run: docker exec cdm-wireguard cat /config/server/publickey>"

// Allocator assigns addresses from a subnet and persists the assignments in
// cdm_peers.json under the WireGuard config directory. The table is re-read
// on every call, so instances sharing a directory agree as long as calls
// are serialized.
type Allocator struct {
	mu        sync.Mutex
	dir       string
	subnet    netip.Prefix
	serverIP  netip.Addr
	serverURL string
	port      int
}

var _ ipam.Allocator = (*Allocator)(nil)

// New creates an Allocator from the WireGuard config section.
func New(cfg config.WireGuard) (*Allocator, error) {
	subnet, err := netip.ParsePrefix(cfg.Subnet)
	if err != nil {
		return nil, fmt.Errorf("wireguard subnet: %w", err)
	}
	if !subnet.Addr().Is4() {
		return nil, fmt.Errorf("wireguard subnet %s: only IPv4 is supported", subnet)
	}
	serverIP, err := netip.ParseAddr(cfg.ServerIP)
	if err != nil {
		return nil, fmt.Errorf("wireguard server ip: %w", err)
	}
	return &Allocator{
		dir:       cfg.ConfigDir,
		subnet:    subnet.Masked(),
		serverIP:  serverIP,
		serverURL: cfg.ServerURL,
		port:      cfg.Port,
	}, nil
}

// Allocate returns the address of id, assigning the lowest free host address
// on first use.
func (a *Allocator) Allocate(_ context.Context, id string) (netip.Addr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	peers, err := a.loadPeers()
	if err != nil {
		return netip.Addr{}, err
	}
	if s, ok := peers[id]; ok {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return netip.Addr{}, fmt.Errorf("%w: address %q of %s: %v", domain.ErrStorageCorrupt, s, id, err)
		}
		return addr, nil
	}

	used := make(map[netip.Addr]bool, len(peers)+1)
	used[a.serverIP] = true
	for _, s := range peers {
		if addr, err := netip.ParseAddr(s); err == nil {
			used[addr] = true
		}
	}

	addr, ok := firstFree(a.subnet, used)
	if !ok {
		return netip.Addr{}, fmt.Errorf("%w: no free address in %s", domain.ErrAddressSpaceExhausted, a.subnet)
	}

	peers[id] = addr.String()
	if err := atomicfile.WriteJSON(a.peersPath(), peers, 0o644); err != nil {
		return netip.Addr{}, fmt.Errorf("save peers: %w", err)
	}
	return addr, nil
}

// Peers returns a copy of the persisted identifier to address table.
func (a *Allocator) Peers(_ context.Context) (map[string]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loadPeers()
}

// ClientConfig renders the client configuration for id. When publicKey is set
// a peer stanza is appended to the server's wg0.conf if that file exists.
func (a *Allocator) ClientConfig(ctx context.Context, id string, addr netip.Addr, publicKey string) (string, error) {
	if publicKey != "" {
		if err := a.addServerPeer(id, addr, publicKey); err != nil {
			slog.WarnContext(ctx, "wireguard peer stanza not written", "device_id", id, "error", err)
		}
	}

	var b strings.Builder
	b.WriteString("[Interface]\n")
	fmt.Fprintf(&b, "# Device: %s\n", id)
	fmt.Fprintf(&b, "Address = %s/%d\n", addr, a.subnet.Bits())
	fmt.Fprintf(&b, "PrivateKey = %s\n", privateKeyToken)
	fmt.Fprintf(&b, "DNS = %s\n", a.serverIP)
	b.WriteString("\n[Peer]\n")
	fmt.Fprintf(&b, "PublicKey = %s\n", a.ServerPublicKey())
	fmt.Fprintf(&b, "Endpoint = %s\n", a.Endpoint())
	fmt.Fprintf(&b, "AllowedIPs = %s\n", a.subnet)
	fmt.Fprintf(&b, "PersistentKeepalive = %d\n", keepaliveSecs)
	return b.String(), nil
}

// ServerPublicKey reads the server key from the shared volume.
func (a *Allocator) ServerPublicKey() string {
	data, err := os.ReadFile(filepath.Join(a.dir, serverKeyFile))
	if err != nil {
		return PlaceholderServerKey
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return PlaceholderServerKey
	}
	return key
}

// Endpoint returns host:port of the VPN server.
func (a *Allocator) Endpoint() string {
	return a.serverURL + ":" + strconv.Itoa(a.port)
}

func (a *Allocator) peersPath() string { return filepath.Join(a.dir, peersFile) }

func (a *Allocator) loadPeers() (map[string]string, error) {
	data, err := os.ReadFile(a.peersPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read peers: %w", err)
	}
	var peers map[string]string
	if err := json.Unmarshal(data, &peers); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrStorageCorrupt, peersFile, err)
	}
	if peers == nil {
		peers = map[string]string{}
	}
	return peers, nil
}

// addServerPeer appends a [Peer] block for the device unless the server
// config is missing or already lists the key. Keys that are not WireGuard
// keys and identifiers spanning lines are refused.
func (a *Allocator) addServerPeer(id string, addr netip.Addr, publicKey string) error {
	key, err := wgtypes.ParseKey(publicKey)
	if err != nil {
		return fmt.Errorf("%w: invalid WireGuard public key", domain.ErrValidation)
	}
	publicKey = key.String()
	if strings.ContainsAny(id, "\r\n") {
		return fmt.Errorf("%w: peer id %q spans lines", domain.ErrValidation, id)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	path := filepath.Join(a.dir, serverConfFile)
	existing, err := os.ReadFile(path) //nolint:gosec // G304: fixed name under the configured dir
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if strings.Contains(string(existing), "PublicKey = "+publicKey+"\n") {
		return nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0) //nolint:gosec // G304: see above
	if err != nil {
		return err
	}
	stanza := fmt.Sprintf("\n[Peer]\n# device: %s\nPublicKey = %s\nAllowedIPs = %s/32\n", id, publicKey, addr)
	if _, err := f.WriteString(stanza); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// firstFree scans the usable hosts of p in ascending order. Network and
// broadcast addresses are excluded except on /31 and /32.
func firstFree(p netip.Prefix, used map[netip.Addr]bool) (netip.Addr, bool) {
	base := p.Addr().As4()
	start := uint64(binary.BigEndian.Uint32(base[:]))
	size := uint64(1) << (32 - p.Bits())

	first, last := start, start+size-1
	if p.Bits() < 31 {
		first++
		last--
	}

	var buf [4]byte
	for n := first; n <= last; n++ {
		binary.BigEndian.PutUint32(buf[:], uint32(n))
		addr := netip.AddrFrom4(buf)
		if !used[addr] {
			return addr, true
		}
	}
	return netip.Addr{}, false
}
