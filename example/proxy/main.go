package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/df-mc/dragonfly/server/item"
	"github.com/guardmc/invguard"
	"github.com/guardmc/invguard/exploit"
	"github.com/guardmc/invguard/handler"
	"github.com/guardmc/invguard/menu"
	"github.com/guardmc/invguard/policy"
	"github.com/guardmc/invguard/remote"
	"github.com/sandertv/gophertunnel/minecraft"
	"github.com/sandertv/gophertunnel/minecraft/protocol/login"
	"github.com/sandertv/gophertunnel/minecraft/protocol/packet"
	"github.com/sirupsen/logrus"

	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"
)

var (
	localPort  string
	remoteAddr string
)

// The following program implements a proxy that forwards players from a local
// address to a remote server, validating menu interactions along the way.
// Players can open a demo menu by sending "!menu" in chat.
func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: ./bin <local_port> <remote_addr>")
		return
	}
	localPort, remoteAddr = os.Args[1], os.Args[2]

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FullTimestamp:   true,
	})

	pol, err := policy.Load("policy.toml")
	if err != nil {
		log.Warnf("falling back to default policy: %v", err)
		pol = policy.Default()
		if err := policy.SaveDefault("policy.toml"); err != nil {
			log.Warnf("unable to write default policy: %v", err)
		}
	}

	guard := invguard.New(log, pol)
	mgr := menu.NewManager(guard)
	handlers := guard.Handlers()

	if addr := os.Getenv("EVENT_COLLECTOR"); addr != "" {
		exporter := remote.NewExporter(log, addr, &tls.Config{InsecureSkipVerify: true})
		defer exporter.Close()
		guard.SetRemoteEventFunc(exporter.Send)
	}

	guard.RegisterViolationHandler(func(id login.IdentityData, t exploit.Type) {
		log.Infof("%s flagged for %s", id.DisplayName, t)
	})

	p, err := minecraft.NewForeignStatusProvider(remoteAddr)
	if err != nil {
		panic(err)
	}
	listener, err := minecraft.ListenConfig{
		StatusProvider:      p,
		FlushRate:           -1,
		AllowUnknownPackets: true,
		AllowInvalidPackets: true,
	}.Listen("raknet", ":"+localPort)
	if err != nil {
		panic(err)
	}
	defer listener.Close()

	if os.Getenv("PPROF_ENABLED") != "" {
		viewer.SetConfiguration(viewer.WithTheme(viewer.ThemeWesteros), viewer.WithAddr("localhost:8080"))
		mv := statsview.New()
		go mv.Start()
	}

	go func() {
		t := time.NewTicker(time.Second / handler.TicksPerSecond)
		defer t.Stop()
		for range t.C {
			mgr.OnTick()
		}
	}()

	for {
		c, err := listener.Accept()
		if err != nil {
			panic(err)
		}
		go handleConn(c.(*minecraft.Conn), listener, mgr, guard, handlers)
	}
}

func demoMenu(mgr *menu.Manager, log *logrus.Logger) menu.Menu {
	l := menu.MustLayout(3)
	l.Border(menu.Button{Item: item.NewStack(item.Diamond{}, 1)})
	_ = l.Set(13, menu.Button{
		Item: item.NewStack(item.Emerald{}, 1),
		OnClick: func(ctx menu.ClickContext) {
			log.Infof("%s pressed the emerald", ctx.Conn.IdentityData().DisplayName)
		},
	})
	return menu.NewValidated(mgr, l, menu.Options{Title: "Demo", ClickSound: true})
}

// handleConn proxies a single player, running every client and server packet
// through the guard's handler chain before forwarding.
func handleConn(conn *minecraft.Conn, listener *minecraft.Listener, mgr *menu.Manager, guard *invguard.Guard, handlers []handler.Handler) {
	serverConn, err := minecraft.Dialer{
		ClientData:   conn.ClientData(),
		IdentityData: conn.IdentityData(),
		FlushRate:    -1,
	}.Dial("raknet", remoteAddr)
	if err != nil {
		panic(err)
	}

	log := logrus.New()
	xuid := conn.IdentityData().XUID

	var g sync.WaitGroup
	g.Add(2)
	go func() {
		if err := conn.StartGame(serverConn.GameData()); err != nil {
			panic(err)
		}
		g.Done()
	}()
	go func() {
		if err := serverConn.DoSpawn(); err != nil {
			panic(err)
		}
		g.Done()
	}()
	g.Wait()

	completion := make(chan struct{}, 1)
	go func() {
		defer listener.Disconnect(conn, "connection lost")
		defer serverConn.Close()
		defer guard.HandleDisconnect(xuid)
		defer func() {
			completion <- struct{}{}
		}()

		for {
			pk, err := conn.ReadPacket()
			if err != nil {
				return
			}

			if txt, ok := pk.(*packet.Text); ok && strings.TrimSpace(txt.Message) == "!menu" {
				if err := mgr.Open(demoMenu(mgr, log), conn); err != nil {
					log.Warnf("open menu: %v", err)
				}
				continue
			}

			forward := true
			for _, h := range handlers {
				if !h.HandleClientPacket(pk, conn) {
					forward = false
				}
			}
			if !forward {
				continue
			}

			if err := serverConn.WritePacket(pk); err != nil {
				var disc minecraft.DisconnectError
				if errors.As(err, &disc) {
					_ = listener.Disconnect(conn, disc.Error())
				}
				return
			}
			serverConn.Flush()
		}
	}()
	go func() {
		defer serverConn.Close()
		defer listener.Disconnect(conn, "connection lost")
		defer func() {
			completion <- struct{}{}
		}()

		for {
			pk, err := serverConn.ReadPacket()
			if err != nil {
				var disc minecraft.DisconnectError
				if errors.As(err, &disc) {
					_ = listener.Disconnect(conn, disc.Error())
				}
				return
			}

			forward := true
			for _, h := range handlers {
				if !h.HandleServerPacket(pk, conn) {
					forward = false
				}
			}
			if !forward {
				continue
			}

			if err := conn.WritePacket(pk); err != nil {
				return
			}
		}
	}()
	<-completion
}
