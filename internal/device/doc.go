// Package device implements the local capture device service.
//
// A Service owns one Driver per camera, assigns each a target page parity,
// and turns prepare, trigger, and finish commands into image files under the
// session's raw directory. Completion is reported through callbacks and the
// session event bus (capture-triggered, capture-succeeded), which is what the
// capture controller listens to. Two drivers ship with the package: a virtual
// driver that renders synthetic pages and a command driver that shells out to
// an external capture tool such as gphoto2.
//
// A USB hotplug monitor built on udev netlink events marks the service
// disconnected when a camera is unplugged so the next command fails fast.
package device
