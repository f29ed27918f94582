// Package cameracapture captures frames from a camera and hands them to
// publish sinks.
//
// It drives a libcamera-style device model: a session acquires and
// configures one camera, the device allocates a fixed set of buffers which
// are mapped once, and one capture request per buffer circulates between
// the device and the driver. Every completed request becomes a Frame with
// its CameraInfo; the request is then re-armed with the committed control
// set and queued again.
//
// # Quick Start
//
//	cfg, err := config.Load("config/camera-capture.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	drv := cameracapture.New()
//	if err := drv.Initialize(ctx, cfg); err != nil {
//	    log.Fatal(err)
//	}
//	defer drv.Shutdown()
//
//	// Optional: measure the frame rate before relying on it
//	stats, _ := drv.Warmup(ctx, 3*time.Second)
//	log.Printf("stable: %v, FPS: %.2f", stats.IsStable, stats.FPSMean)
//
//	recv, _ := drv.SubscribeLatest("my-consumer")
//	for {
//	    d, err := recv.Receive(ctx)
//	    if err != nil {
//	        break
//	    }
//	    process(d.Frame, d.Info)
//	}
//
// # Pipeline
//
//	camera ──► scheduler ──► emitter ──► framebus ──┬─► subscribers
//	   ▲            │                               ├─► MQTT (msgpack)
//	   └── requeue ─┘                               └─► GStreamer appsrc
//
// The capture path never waits on a consumer: the frame bus drops frames
// for subscribers that fall behind, and the network and GStreamer sinks
// run behind drop-old subscriptions.
//
// # Controls
//
// Control parameters from the configuration are validated against the
// device's controls before anything is queued. Values changed at run time
// with SetControl reach the device on the next reuse of each request.
//
// # Backends
//
//   - v4l2: Video4Linux2 devices (/dev/video*), dmabuf exported buffers
//   - virtual: a test pattern camera with memfd buffers
package cameracapture
