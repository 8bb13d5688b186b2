// Package bundled exposes the Go APIs behind the bundle coordination
// service: an HTTP resource server whose writes are grouped into bundles
// that commit through a single batched storage write. Producers append
// resources to an open bundle concurrently; the last producer to arrive
// performs the commit, and everyone observes the same outcome. The server
// runs as a standalone binary but the package also makes it easy to embed
// the server in tests or sidecar processes.
//
// # Running a server
//
// The server listens on the network specified by `Config.ListenProto`
// (default `tcp`) and address `Config.Listen`.
//
//	cfg := bundled.Config{
//	    Store:  "s3://minio.local/bundles",
//	    Listen: ":9451",
//	}
//	srv, stop, err := bundled.StartServer(ctx, cfg)
//	if err != nil { log.Fatal(err) }
//	defer stop(context.Background())
//
// # Stores
//
// `Config.Store` is a URL selecting the resource store:
//
//   - `mem://` – in-process memory store, state lost on restart
//   - `disk:///var/lib/bundled` – filesystem store with atomic renames
//   - `s3://endpoint/bucket/prefix` – S3-compatible object store
//
// S3 URLs accept `?scheme=http`, `?insecure=true`, `?region=...` and
// `?path-style=false` query parameters.
//
// # Bundles
//
// A bundle is declared with `POST /v1/bundle`: the request names its kind
// (`batch` or `transaction`), a label, and the entries it carries. Every
// entry is staged concurrently and the whole set is written with one
// storage merge once the last entry arrives. A `transaction` bundle asks
// the store to apply the merge atomically; `batch` bundles accept
// per-resource durability. Entries may withdraw with the `skip` method,
// and a bundle whose entries all withdraw cancels without writing.
//
// Individual resources remain reachable outside bundles through
// `PUT/GET/DELETE /v1/resource/{type}/{id}` and
// `GET /v1/resources/{type}`.
//
// # Unix domain sockets
//
// For same-host sidecars the server can listen on a Unix socket by setting
// `ListenProto` to "unix". The socket file is removed on shutdown.
//
//	cfg := bundled.Config{
//	    Store:       "mem://",
//	    ListenProto: "unix",
//	    Listen:      "/var/run/bundled.sock",
//	}
//
// # Testing
//
// `StartTestServer` boots a throwaway server on a random port backed by
// `mem://` and registers cleanup with the test:
//
//	ts := bundled.StartTestServer(t, bundled.WithTestLoggerTB(t))
//	resp, err := http.Post(ts.URL()+"/v1/bundle", "application/json", body)
//
// # Observability
//
// Setting `Config.MetricsListen` serves Prometheus metrics on `/metrics`;
// `Config.PprofListen` serves the standard pprof handlers. Structured logs
// go through pslog and every request carries a correlation id echoed in
// the `X-Correlation-Id` header.
package bundled
