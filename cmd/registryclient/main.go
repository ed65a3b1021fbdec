package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/sidechain-registry/api/clients"
	"github.com/ruteri/sidechain-registry/cmd/flags"
	"github.com/ruteri/sidechain-registry/common"
	"github.com/ruteri/sidechain-registry/interfaces"
	"github.com/urfave/cli/v2"
)

var (
	flagCaller = &cli.StringFlag{
		Name:  "caller",
		Usage: "caller address sent in the address header, for servers in header mode",
	}
	flagPrivateKey = &cli.StringFlag{
		Name:    "private-key",
		Usage:   "hex secp256k1 key used to sign requests; sets the caller to its address",
		EnvVars: []string{"REGISTRY_PRIVATE_KEY"},
	}
	flagDiscoverSRV = &cli.StringFlag{
		Name:  "discover-srv",
		Usage: "resolve the server from this SRV name instead of server-addr",
	}
	flagDNSResolver = &cli.StringFlag{
		Name:  "dns-resolver",
		Value: clients.DefaultResolverAddr,
		Usage: "DNS server used with discover-srv",
	}
	flagSince = &cli.Uint64Flag{
		Name:  "since",
		Usage: "return notifications after this sequence",
	}
	flagLimit = &cli.IntFlag{
		Name:  "limit",
		Usage: "maximum number of notifications, 0 for the server default",
	}
)

func main() {
	app := &cli.App{
		Name:    "registry-client",
		Usage:   "Query and administer a sidechain registry server",
		Version: common.Version,
		Flags: append([]cli.Flag{
			flags.ServerAddrFlag,
			flagCaller,
			flagPrivateKey,
			flagDiscoverSRV,
			flagDNSResolver,
		}, flags.CommonFlags...),
		Commands: []*cli.Command{
			{
				Name:   "owner",
				Usage:  "print the registry owner",
				Action: withClient(func(cCtx *cli.Context, c *clients.RegistryClient) (any, error) { return c.Owner() }),
			},
			{
				Name:      "permissions",
				Usage:     "print the permission bits of an address",
				ArgsUsage: "<address>",
				Action: withClient(func(cCtx *cli.Context, c *clients.RegistryClient) (any, error) {
					id, err := identityArg(cCtx, 0)
					if err != nil {
						return nil, err
					}
					return c.PermissionsOf(id)
				}),
			},
			{
				Name:      "set-permission",
				Usage:     "overwrite the permission bits of an address (owner only)",
				ArgsUsage: "<address> <bits>",
				Action: withClient(func(cCtx *cli.Context, c *clients.RegistryClient) (any, error) {
					id, err := identityArg(cCtx, 0)
					if err != nil {
						return nil, err
					}
					bits, err := uintArg(cCtx, 1)
					if err != nil {
						return nil, err
					}
					return nil, c.SetPermission(id, interfaces.Permissions(bits))
				}),
			},
			{
				Name:      "is-change-agent",
				Usage:     "report whether an address is a change agent",
				ArgsUsage: "<address>",
				Action: withClient(func(cCtx *cli.Context, c *clients.RegistryClient) (any, error) {
					id, err := identityArg(cCtx, 0)
					if err != nil {
						return nil, err
					}
					return c.IsChangeAgent(id)
				}),
			},
			{
				Name:      "update-change-agent",
				Usage:     "grant or revoke change-agent status (owner only)",
				ArgsUsage: "<address> <true|false>",
				Action: withClient(func(cCtx *cli.Context, c *clients.RegistryClient) (any, error) {
					id, err := identityArg(cCtx, 0)
					if err != nil {
						return nil, err
					}
					enabled, err := strconv.ParseBool(cCtx.Args().Get(1))
					if err != nil {
						return nil, fmt.Errorf("invalid enabled flag %q: %w", cCtx.Args().Get(1), err)
					}
					return nil, c.UpdateChangeAgent(id, enabled)
				}),
			},
			{
				Name:   "change-agents",
				Usage:  "list change agents",
				Action: withClient(func(cCtx *cli.Context, c *clients.RegistryClient) (any, error) { return c.ChangeAgents() }),
			},
			{
				Name:      "add-sidechain",
				Usage:     "activate a sidechain under a marketplace (change agents only)",
				ArgsUsage: "<sidechain> <marketplace-id>",
				Action: withClient(func(cCtx *cli.Context, c *clients.RegistryClient) (any, error) {
					id, err := identityArg(cCtx, 0)
					if err != nil {
						return nil, err
					}
					marketplaceID, err := uintArg(cCtx, 1)
					if err != nil {
						return nil, err
					}
					return nil, c.AddSidechain(id, interfaces.MarketplaceID(marketplaceID))
				}),
			},
			{
				Name:      "remove-sidechain",
				Usage:     "deactivate a sidechain (change agents only)",
				ArgsUsage: "<sidechain>",
				Action: withClient(func(cCtx *cli.Context, c *clients.RegistryClient) (any, error) {
					id, err := identityArg(cCtx, 0)
					if err != nil {
						return nil, err
					}
					closed, err := c.RemoveSidechain(id)
					return map[string]bool{"closed": closed}, err
				}),
			},
			{
				Name:      "status",
				Usage:     "print whether a sidechain is active and its marketplace",
				ArgsUsage: "<sidechain>",
				Action: withClient(func(cCtx *cli.Context, c *clients.RegistryClient) (any, error) {
					id, err := identityArg(cCtx, 0)
					if err != nil {
						return nil, err
					}
					return c.Status(id)
				}),
			},
			{
				Name:   "list",
				Usage:  "list active sidechains",
				Action: withClient(func(cCtx *cli.Context, c *clients.RegistryClient) (any, error) { return c.Sidechains() }),
			},
			{
				Name:  "notifications",
				Usage: "print a page of the notification log",
				Flags: []cli.Flag{flagSince, flagLimit},
				Action: withClient(func(cCtx *cli.Context, c *clients.RegistryClient) (any, error) {
					return c.Notifications(cCtx.Uint64(flagSince.Name), cCtx.Int(flagLimit.Name))
				}),
			},
			{
				Name:  "checkpoint",
				Usage: "ask the server to store a snapshot (owner only)",
				Action: withClient(func(cCtx *cli.Context, c *clients.RegistryClient) (any, error) {
					id, err := c.Checkpoint()
					if err != nil {
						return nil, err
					}
					return map[string]string{"content_id": id.String()}, nil
				}),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

type clientAction func(cCtx *cli.Context, c *clients.RegistryClient) (any, error)

// withClient builds the client from the global flags, runs action and prints
// its result as JSON.
func withClient(action clientAction) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		logger := flags.SetupLogger(cCtx)

		client, err := newClient(cCtx)
		if err != nil {
			return err
		}

		result, err := action(cCtx, client)
		if err != nil {
			logger.Debug("Request failed", "command", cCtx.Command.Name, "err", err)
			return err
		}
		if result == nil {
			logger.Info("Done", "command", cCtx.Command.Name)
			return nil
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
}

func newClient(cCtx *cli.Context) (*clients.RegistryClient, error) {
	serverAddr := cCtx.String(flags.ServerAddrFlag.Name)
	if srvName := cCtx.String(flagDiscoverSRV.Name); srvName != "" {
		urls, err := clients.DiscoverRegistry(srvName, cCtx.String(flagDNSResolver.Name))
		if err != nil {
			return nil, err
		}
		serverAddr = urls[0]
	}

	var opts []clients.ClientOption
	if raw := cCtx.String(flagPrivateKey.Name); raw != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(raw, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		opts = append(opts, clients.WithSigner(key))
	} else if raw := cCtx.String(flagCaller.Name); raw != "" {
		caller, err := interfaces.NewIdentityFromHex(raw)
		if err != nil {
			return nil, err
		}
		opts = append(opts, clients.WithCaller(caller))
	}

	return clients.NewRegistryClient(serverAddr, opts...), nil
}

func identityArg(cCtx *cli.Context, i int) (interfaces.Identity, error) {
	raw := cCtx.Args().Get(i)
	if raw == "" {
		return interfaces.Identity{}, errors.New("missing address argument")
	}
	return interfaces.NewIdentityFromHex(raw)
}

func uintArg(cCtx *cli.Context, i int) (uint64, error) {
	raw := cCtx.Args().Get(i)
	v, err := strconv.ParseUint(raw, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", raw, err)
	}
	return v, nil
}
