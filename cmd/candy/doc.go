// Command candy controls the candy bridge daemon: starting and stopping it,
// account calls against the gateway, and watching or replaying inbound
// events.
package main
